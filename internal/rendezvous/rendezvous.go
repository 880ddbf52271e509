// Package rendezvous implements the one-shot cross-process handshake a
// supervisor uses to hand a stage process its Bridge: the supervisor
// listens on a uniquely named Unix domain socket before spawning the
// child, passes the socket path on argv, and accepts exactly one
// connection from it.
package rendezvous

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/grayareahq/wasmpipe/internal/ipc"
)

// Endpoint is a one-shot rendezvous listener created by the supervisor
// before spawning a stage. Its Name is passed to the child as
// --orchestrator-ch.
type Endpoint struct {
	Name string

	listener *net.UnixListener
}

// NewEndpoint creates a uniquely named Unix domain socket under the
// system temp directory and starts listening on it.
func NewEndpoint() (*Endpoint, error) {
	name := filepath.Join(os.TempDir(), fmt.Sprintf("wasmpipe-%s.sock", uuid.NewString()))

	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: resolving endpoint address: %w", err)
	}

	ul, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: listening on endpoint: %w", err)
	}

	return &Endpoint{Name: name, listener: ul}, nil
}

// Accept blocks until the stage process dials the endpoint, or ctx is
// canceled. It returns a Bridge connected to the stage's socket, backed
// by a send queue of capacity bufSize.
func (e *Endpoint) Accept(ctx context.Context, bufSize int) (*ipc.Bridge, error) {
	type result struct {
		conn *net.UnixConn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := e.listener.AcceptUnix()
		resultCh <- result{conn, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("rendezvous: accepting connection: %w", r.err)
		}
		return ipc.NewBridge(r.conn, bufSize), nil
	case <-ctx.Done():
		e.listener.Close()
		return nil, ctx.Err()
	}
}

// Close stops listening and removes the socket file. It is safe to
// call after a successful Accept, since the listener owns only the
// rendezvous socket, not the accepted connection.
func (e *Endpoint) Close() error {
	err := e.listener.Close()
	os.Remove(e.Name)
	return err
}

// Dial connects to a supervisor-created Endpoint by name. Called from
// the stage process using the --orchestrator-ch argument it was given.
func Dial(endpointName string, bufSize int) (*ipc.Bridge, error) {
	addr, err := net.ResolveUnixAddr("unix", endpointName)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: resolving endpoint address: %w", err)
	}

	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dialing endpoint: %w", err)
	}

	return ipc.NewBridge(conn, bufSize), nil
}
