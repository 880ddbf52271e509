package ipc

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/grayareahq/wasmpipe/internal/wire"
	"github.com/grayareahq/wasmpipe/pipeline"
)

// Bridge is a duplex pipeline.Message transport over a single net.Conn,
// the cross-process analogue of Channel: one Bridge per stage, created
// once the rendezvous handshake hands back the connected socket.
//
// Writes are serialized through a single background goroutine so
// concurrent Send calls never interleave frames on the wire, mirroring
// the single-pending-writer discipline of a buffered in-process pipe.
type Bridge struct {
	conn net.Conn

	sendQueue chan pipeline.Message
	sendErr   atomic.Value // error

	closed    chan struct{}
	closeOnce sync.Once
}

// NewBridge wraps conn as a Bridge with a send queue of capacity
// bufSize (default 10 per spec.md §4.2/§5 when bufSize <= 0).
func NewBridge(conn net.Conn, bufSize int) *Bridge {
	if bufSize <= 0 {
		bufSize = 10
	}
	b := &Bridge{
		conn:      conn,
		sendQueue: make(chan pipeline.Message, bufSize),
		closed:    make(chan struct{}),
	}
	go b.writeLoop()
	return b
}

func (b *Bridge) writeLoop() {
	for {
		select {
		case msg := <-b.sendQueue:
			if err := wire.Encode(b.conn, msg); err != nil {
				b.sendErr.Store(err)
				b.Close()
				return
			}
		case <-b.closed:
			return
		}
	}
}

// Send enqueues msg for transmission. It blocks while the send queue is
// full. Once the write loop has failed it returns that write error;
// otherwise it returns pipeline.ErrChannelClosed once the bridge is closed.
func (b *Bridge) Send(msg pipeline.Message) error {
	if err, ok := b.sendErr.Load().(error); ok {
		return err
	}

	select {
	case <-b.closed:
		return pipeline.ErrChannelClosed
	default:
	}

	select {
	case b.sendQueue <- msg:
		return nil
	case <-b.closed:
		return pipeline.ErrChannelClosed
	}
}

// Recv blocks until a frame arrives or the bridge is closed. EOF and
// closed-connection errors are translated to pipeline.ErrChannelClosed.
func (b *Bridge) Recv() (pipeline.Message, error) {
	msg, err := wire.Decode(b.conn)
	if err != nil {
		if err == io.EOF || err == io.ErrClosedPipe {
			return pipeline.Message{}, pipeline.ErrChannelClosed
		}
		return pipeline.Message{}, err
	}
	return msg, nil
}

// Close shuts down the write loop and the underlying connection. It is
// idempotent and safe to call from multiple goroutines.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.conn.Close()
	})
	return err
}
