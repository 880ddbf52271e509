package ipc

import (
	"sync"

	"github.com/grayareahq/wasmpipe/pipeline"
)

// Tx is the send half of a Channel. Send is safe for concurrent use by
// multiple goroutines; Close is idempotent.
type Tx struct {
	queue      chan pipeline.Message
	closed     chan struct{}
	closeOnce  sync.Once
}

// Send enqueues msg for the paired Rx. It blocks if the queue is full,
// implementing the bounded back-pressure spec.md §4.2/§5 require, and
// returns pipeline.ErrChannelClosed if the channel has been closed.
func (t *Tx) Send(msg pipeline.Message) error {
	select {
	case <-t.closed:
		return pipeline.ErrChannelClosed
	default:
	}

	select {
	case t.queue <- msg:
		return nil
	case <-t.closed:
		return pipeline.ErrChannelClosed
	}
}

// Close closes the channel. It only closes the done signal, never the
// queue itself, so a racing Send can never panic on a closed channel.
func (t *Tx) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

// Rx is the receive half of a Channel.
type Rx struct {
	queue  chan pipeline.Message
	closed chan struct{}
}

// Recv blocks until a message is available, the channel is closed, or
// ctx-like cancellation is signaled through done. Passing a nil done
// channel waits indefinitely. Any messages already queued before Close
// are still delivered before ErrChannelClosed.
func (r *Rx) Recv(done <-chan struct{}) (pipeline.Message, error) {
	select {
	case msg := <-r.queue:
		return msg, nil
	default:
	}

	select {
	case msg := <-r.queue:
		return msg, nil
	case <-r.closed:
		select {
		case msg := <-r.queue:
			return msg, nil
		default:
			return pipeline.Message{}, pipeline.ErrChannelClosed
		}
	case <-done:
		return pipeline.Message{}, pipeline.ErrChannelClosed
	}
}
