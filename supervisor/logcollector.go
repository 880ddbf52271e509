package supervisor

import (
	"bufio"
	"fmt"
	"io"

	"github.com/grayareahq/wasmpipe/internal/log"
	"github.com/grayareahq/wasmpipe/pipeline"
)

// collectLog reads newline-delimited output from a stage's stdout and
// emits it through the shared logger tagged with the stage's name.
// Reaching EOF means the stage closed its output before the pipeline
// was asked to stop, which is treated as fatal, mirroring the upstream
// log handler that returns an error the moment the child's stdout
// stream ends.
func collectLog(stageName string, r io.Reader, logger *log.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		log.LInfof(logger, "[%s] %s", stageName, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return &pipeline.KindError{Kind: pipeline.LogStreamClosed, Stage: stageName, Cause: fmt.Errorf("reading stdout: %w", err)}
	}

	return &pipeline.KindError{Kind: pipeline.LogStreamClosed, Stage: stageName}
}
