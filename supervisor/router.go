package supervisor

import (
	"fmt"

	"github.com/grayareahq/wasmpipe/internal/ipc"
	"github.com/grayareahq/wasmpipe/pipeline"
)

// sink is a named destination a routed message can be forwarded to.
type sink struct {
	stageName string
	bridge    *ipc.Bridge
}

// router is the name-keyed, multi-source selector-based topic router
// of spec.md §4.2: every stage's Bridge is read by its own goroutine,
// and each received Message is fanned out (cloned for subscriber 2..k)
// to every sink subscribed to its topic.
type router struct {
	sources map[string]*ipc.Bridge // stage name -> bridge to read from
	routes  map[string][]sink      // topic -> subscribed sinks

	errCh chan error
}

func newRouter(sources map[string]*ipc.Bridge, routes map[string][]sink) *router {
	return &router{
		sources: sources,
		routes:  routes,
		errCh:   make(chan error, len(sources)),
	}
}

// straightPipe is the 1:1 shortcut used when the frozen route table has
// exactly one source and one sink with no fan-out: it forwards without
// consulting the topic at all, the direct net.Conn-to-net.Conn relay
// earlier orchestrator designs used before the selector/fan-out router
// was introduced.
func (r *router) straightPipe(from *ipc.Bridge, to sink) {
	for {
		msg, err := from.Recv()
		if err != nil {
			r.errCh <- fmt.Errorf("router: reading from source: %w", err)
			return
		}
		if err := to.bridge.Send(msg); err != nil {
			r.errCh <- fmt.Errorf("router: forwarding to %s: %w", to.stageName, err)
			return
		}
	}
}

// run starts one reader goroutine per source and blocks until any of
// them reports a fatal error (unknown topic or a closed source/sink).
func (r *router) run() error {
	if len(r.sources) == 1 && len(r.singleSink()) == 1 {
		for _, src := range r.sources {
			go r.straightPipe(src, r.singleSink()[0])
		}
		return <-r.errCh
	}

	for name, src := range r.sources {
		go r.forward(name, src)
	}
	return <-r.errCh
}

// singleSink returns the complete set of distinct sinks across all
// routes, used only to detect the single-edge shortcut case.
func (r *router) singleSink() []sink {
	seen := make(map[string]sink)
	for _, sinks := range r.routes {
		for _, s := range sinks {
			seen[s.stageName] = s
		}
	}
	out := make([]sink, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

func (r *router) forward(sourceName string, src *ipc.Bridge) {
	for {
		msg, err := src.Recv()
		if err != nil {
			r.errCh <- fmt.Errorf("router: source %s: %w", sourceName, err)
			return
		}

		sinks, ok := r.routes[msg.Topic]
		if !ok || len(sinks) == 0 {
			r.errCh <- fmt.Errorf("router: topic %q from %s: %w", msg.Topic, sourceName, pipeline.ErrRoutingUnknownTopic)
			return
		}

		for i, s := range sinks {
			out := msg
			if i > 0 {
				out = msg.Clone()
			}
			if err := s.bridge.Send(out); err != nil {
				r.errCh <- fmt.Errorf("router: forwarding %q to %s: %w", msg.Topic, s.stageName, err)
				return
			}
		}
	}
}
