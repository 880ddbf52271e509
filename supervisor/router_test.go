package supervisor

import (
	"net"
	"testing"
	"time"

	"github.com/grayareahq/wasmpipe/internal/ipc"
	"github.com/grayareahq/wasmpipe/pipeline"
)

func bridgePair(t *testing.T) (a, b *ipc.Bridge) {
	t.Helper()
	c1, c2 := net.Pipe()
	return ipc.NewBridge(c1, 4), ipc.NewBridge(c2, 4)
}

func TestRouterFanOut(t *testing.T) {
	srcLocal, srcRemote := bridgePair(t)
	sinkALocal, sinkARemote := bridgePair(t)
	sinkBLocal, sinkBRemote := bridgePair(t)
	defer srcLocal.Close()
	defer srcRemote.Close()
	defer sinkALocal.Close()
	defer sinkARemote.Close()
	defer sinkBLocal.Close()
	defer sinkBRemote.Close()

	sources := map[string]*ipc.Bridge{"source": srcRemote}
	routes := map[string][]sink{
		"frames": {
			{stageName: "sinkA", bridge: sinkALocal},
			{stageName: "sinkB", bridge: sinkBLocal},
		},
	}
	r := newRouter(sources, routes)
	go r.run()

	if err := srcLocal.Send(pipeline.Message{Topic: "frames", Data: []byte("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for name, b := range map[string]*ipc.Bridge{"sinkA": sinkARemote, "sinkB": sinkBRemote} {
		done := make(chan struct{})
		go func(b *ipc.Bridge) {
			defer close(done)
			msg, err := b.Recv()
			if err != nil {
				t.Errorf("%s Recv: %v", name, err)
				return
			}
			if msg.Topic != "frames" {
				t.Errorf("%s Recv() topic = %q", name, msg.Topic)
			}
		}(b)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: did not receive forwarded message", name)
		}
	}
}

func TestRouterUnknownTopicIsFatal(t *testing.T) {
	srcLocal, srcRemote := bridgePair(t)
	defer srcLocal.Close()
	defer srcRemote.Close()

	sources := map[string]*ipc.Bridge{"source": srcRemote}
	routes := map[string][]sink{}
	r := newRouter(sources, routes)

	errDone := make(chan error, 1)
	go func() { errDone <- r.run() }()

	if err := srcLocal.Send(pipeline.Message{Topic: "unrouted", Data: []byte("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-errDone:
		if err == nil {
			t.Fatalf("run() returned nil error, want ErrRoutingUnknownTopic")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("router did not report the unknown topic")
	}
}
