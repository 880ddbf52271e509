// Package supervisor implements the top-level orchestration loop:
// spawning stage processes, rendezvousing with their bridges, routing
// topic traffic between them, and collecting their logs. Any one of
// those three jobs returning is treated as a fatal error for the whole
// pipeline, never as a thing to retry or restart.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/grayareahq/wasmpipe/internal/ipc"
	"github.com/grayareahq/wasmpipe/internal/log"
	"github.com/grayareahq/wasmpipe/internal/rendezvous"
	"github.com/grayareahq/wasmpipe/pipeline"
)

// DefaultBridgeBufferSize is the queue capacity given to every stage's
// Bridge unless overridden.
const DefaultBridgeBufferSize = 10

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the logger used for process and routing events.
func WithLogger(logger *log.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithDebug sets the WASMPIPE_DEBUG=1 environment variable on every
// spawned stage, the analogue of the original runtime's RUST_BACKTRACE
// development convenience.
func WithDebug(debug bool) Option {
	return func(s *Supervisor) { s.debug = debug }
}

// WithBridgeBufferSize overrides the per-stage bridge queue capacity.
func WithBridgeBufferSize(n int) Option {
	return func(s *Supervisor) { s.bridgeBufSize = n }
}

// stageProc tracks one spawned stage process through its lifecycle:
// Spawning -> Rendezvous -> Connected -> Terminated.
type stageProc struct {
	name     string
	cmd      *exec.Cmd
	endpoint *rendezvous.Endpoint
	bridge   *ipc.Bridge
}

// Supervisor spawns and owns a set of stage processes before they have
// rendezvoused.
type Supervisor struct {
	mu            sync.Mutex
	stages        map[string]*stageProc
	stageStdout   map[string]io.Reader
	logger        *log.Logger
	debug         bool
	bridgeBufSize int
}

// New creates an empty Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		stages:        make(map[string]*stageProc),
		stageStdout:   make(map[string]io.Reader),
		bridgeBufSize: DefaultBridgeBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns a stage process running binPath with args, having
// already created its rendezvous endpoint and appended
// --orchestrator-ch=<endpoint> to its argv. The stage's stdout is piped
// for later log collection.
func (s *Supervisor) Start(ctx context.Context, name, binPath string, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[name]; exists {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: name, Cause: fmt.Errorf("stage already started")}
	}

	ep, err := rendezvous.NewEndpoint()
	if err != nil {
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: name, Cause: err}
	}

	fullArgs := append(append([]string{}, args...), "--orchestrator-ch="+ep.Name)
	cmd := exec.CommandContext(ctx, binPath, fullArgs...)
	cmd.Env = os.Environ()
	if s.debug {
		cmd.Env = append(cmd.Env, "WASMPIPE_DEBUG=1")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ep.Close()
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: name, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		ep.Close()
		return &pipeline.KindError{Kind: pipeline.Spawn, Stage: name, Cause: err}
	}

	proc := &stageProc{name: name, cmd: cmd, endpoint: ep}
	s.stages[name] = proc
	s.stageStdout[name] = stdout
	log.LInfof(s.logger, "started stage %q (pid %d)", name, cmd.Process.Pid)
	return nil
}

// Connect waits for every started stage to dial back its rendezvous
// endpoint and returns a Connected ready to have routes declared on it.
func (s *Supervisor) Connect(ctx context.Context) (*Connected, error) {
	s.mu.Lock()
	procs := make([]*stageProc, 0, len(s.stages))
	for _, p := range s.stages {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range procs {
		p := p
		g.Go(func() error {
			bridge, err := p.endpoint.Accept(gctx, s.bridgeBufSize)
			if err != nil {
				return &pipeline.KindError{Kind: pipeline.Rendezvous, Stage: p.name, Cause: err}
			}
			p.bridge = bridge
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stages := make(map[string]*stageProc, len(procs))
	for _, p := range procs {
		stages[p.name] = p
	}

	return &Connected{
		sup:    s,
		stages: stages,
		routes: make(map[string][]sink),
	}, nil
}

// Connected is a Supervisor whose stages have all rendezvoused and are
// ready to have their routes declared and traffic started.
type Connected struct {
	sup    *Supervisor
	stages map[string]*stageProc
	routes map[string][]sink
}

// RouteTopicToStage declares that messages published on topic should be
// forwarded to stageName's bridge. Calling it multiple times for the
// same topic fans out to every named stage, in the order they were
// added; repeating an existing (topic, stage) pair is a no-op.
func (c *Connected) RouteTopicToStage(topic, stageName string) error {
	dst, ok := c.stages[stageName]
	if !ok {
		return fmt.Errorf("supervisor: route to unknown stage %q", stageName)
	}
	for _, s := range c.routes[topic] {
		if s.stageName == stageName {
			return nil
		}
	}
	c.routes[topic] = append(c.routes[topic], sink{stageName: stageName, bridge: dst.bridge})
	return nil
}

// Run freezes the route table, starts the router, and blocks until the
// router, a stage process, or a stage's log stream ends — whichever
// happens first is the pipeline's terminal error. There is no
// restart-and-continue path: spec.md treats any completion among these
// three classes of task as a failure of the whole pipeline.
func (c *Connected) Run(ctx context.Context) error {
	frozenRoutes := make(map[string][]sink, len(c.routes))
	for topic, sinks := range c.routes {
		frozenRoutes[topic] = append([]sink{}, sinks...)
	}

	if len(frozenRoutes) == 0 {
		return &pipeline.KindError{Kind: pipeline.NotConfigured}
	}

	sources := make(map[string]*ipc.Bridge, len(c.stages))
	for name, p := range c.stages {
		sources[name] = p.bridge
	}

	r := newRouter(sources, frozenRoutes)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(r.run)

	for _, p := range c.stages {
		p := p
		g.Go(func() error { return c.waitStage(gctx, p) })
		if stdout, ok := c.sup.stageStdout[p.name]; ok {
			stdout := stdout
			name := p.name
			g.Go(func() error { return collectLog(name, stdout, c.sup.logger) })
		}
	}

	return g.Wait()
}

func (c *Connected) waitStage(ctx context.Context, p *stageProc) error {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		return &pipeline.KindError{Kind: pipeline.PrematureExit, Stage: p.name, Cause: err}
	case <-ctx.Done():
		return nil
	}
}
