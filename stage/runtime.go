// Package stage implements the per-process startup sequence and
// message loop of a pipeline stage: load its guest module, rendezvous
// with the supervisor (unless running standalone for local testing),
// bind its websocket/bridge sources and sinks, and run until one of
// them ends.
package stage

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/errgroup"

	"github.com/grayareahq/wasmpipe/internal/ipc"
	"github.com/grayareahq/wasmpipe/internal/log"
	"github.com/grayareahq/wasmpipe/internal/rendezvous"
	"github.com/grayareahq/wasmpipe/pipeline"
	"github.com/grayareahq/wasmpipe/stage/wasmhost"
	"github.com/grayareahq/wasmpipe/stage/wsclient"
)

// DefaultBridgeBufferSize mirrors supervisor.DefaultBridgeBufferSize
// for the stage side of the same Bridge.
const DefaultBridgeBufferSize = 10

// Runtime drives a single stage process end to end.
type Runtime struct {
	cfg    *pipeline.StageConfig
	logger *log.Logger

	bridge  *ipc.Bridge
	core    *wasmhost.Core
	adapter *wasmhost.Adapter
	ws      *wsclient.Client
}

// NewRuntime creates a Runtime for cfg. cfg.Rendezvous must already be
// set (from the --orchestrator-ch flag) if the stage is meant to
// connect to a supervisor.
func NewRuntime(cfg *pipeline.StageConfig, logger *log.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Run loads the guest module, connects every configured source/sink,
// and blocks until one of the stage's concurrent tasks ends — a closed
// bridge, a closed websocket stream, or a guest ABI violation.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.cfg.Stream != nil && rt.cfg.Rendezvous == "" {
		return &pipeline.KindError{Kind: pipeline.ConfigInvalid, Stage: rt.cfg.Name, Cause: fmt.Errorf("stage has a stream but no rendezvous endpoint was given")}
	}

	wasmBin, err := os.ReadFile(rt.cfg.Module.Path)
	if err != nil {
		return &pipeline.KindError{Kind: pipeline.ConfigInvalid, Stage: rt.cfg.Name, Cause: fmt.Errorf("reading guest module: %w", err)}
	}

	argv := append([]string{rt.cfg.Name}, rt.cfg.Args...)
	moduleConfig := wazero.NewModuleConfig().
		WithArgs(argv...).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr)

	rt.core, err = wasmhost.NewCore(ctx, wasmBin, moduleConfig, rt.logger)
	if err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
	}
	defer rt.core.Close()

	if err := rt.core.WASIPreview1(); err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
	}

	var outputTopics []string
	if rt.cfg.Output != nil {
		outputTopics = rt.cfg.Output.Topics
	}
	rt.adapter = wasmhost.NewAdapter(rt.core, outputTopics)

	if rt.cfg.Rendezvous != "" {
		rt.bridge, err = rendezvous.Dial(rt.cfg.Rendezvous, DefaultBridgeBufferSize)
		if err != nil {
			return &pipeline.KindError{Kind: pipeline.Rendezvous, Stage: rt.cfg.Name, Cause: err}
		}
		defer rt.bridge.Close()
	}

	if rt.cfg.Stream != nil {
		rt.ws, err = wsclient.Dial(ctx, rt.cfg.Stream.Websocket.URL, rt.logger)
		if err != nil {
			return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
		}
		defer rt.ws.Close()
	}

	var onTopic wasmhost.TopicSink
	if rt.cfg.Output != nil {
		onTopic = func(topic string, data []byte) error {
			if rt.bridge == nil {
				return fmt.Errorf("stage: guest emitted to topic %q but no bridge is connected", topic)
			}
			return rt.bridge.Send(pipeline.Message{Topic: topic, Data: data})
		}
	}

	var onWebsocket wasmhost.WebsocketSink
	if rt.cfg.Stream != nil {
		onWebsocket = rt.ws.Send
	}

	if err := rt.adapter.LinkImports(onTopic, onWebsocket); err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
	}

	if err := rt.core.Instantiate(); err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
	}

	if err := rt.adapter.Initialize(ctx); err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: rt.cfg.Name, Cause: err}
	}

	g, gctx := errgroup.WithContext(ctx)

	if rt.cfg.Stream != nil {
		g.Go(func() error {
			return rt.ws.ReadLoop(gctx, rt.adapter.Deliver)
		})
	}

	if rt.cfg.Input != nil && rt.bridge != nil {
		g.Go(func() error { return rt.bridgeReadLoop(gctx) })
	}

	return g.Wait()
}

func (rt *Runtime) bridgeReadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := rt.bridge.Recv()
		if err != nil {
			return fmt.Errorf("stage: reading bridge: %w", err)
		}

		if err := rt.adapter.Deliver(msg.Data); err != nil {
			return fmt.Errorf("stage: delivering message on topic %q: %w", msg.Topic, err)
		}
	}
}
