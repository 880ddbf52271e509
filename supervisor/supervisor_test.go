package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/grayareahq/wasmpipe/pipeline"
)

func TestRunFailsFastWithNoRoutes(t *testing.T) {
	c := &Connected{
		sup:    New(),
		stages: map[string]*stageProc{},
		routes: map[string][]sink{},
	}

	err := c.Run(context.Background())
	if !errors.Is(err, pipeline.ErrNotConfigured) {
		t.Fatalf("Run() error = %v, want errors.Is(_, ErrNotConfigured)", err)
	}
}
