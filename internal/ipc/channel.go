// Package ipc implements the duplex message channel (Bridge) that
// connects a supervisor to a stage process, and an in-process Channel
// abstraction whose bounded Tx/Rx halves can each be taken once.
package ipc

import (
	"fmt"

	"github.com/grayareahq/wasmpipe/pipeline"
)

// Channel is a one-shot holder of a Tx/Rx pair, mirroring the
// simplex/duplex/split/take vocabulary of a classic IPC channel type:
// a Channel starts out holding both ends, and each end can be taken at
// most once.
type Channel struct {
	tx *Tx
	rx *Rx
}

// Simplex creates a Channel carrying both ends of a single direction of
// traffic, backed by a bounded in-process queue of capacity bufSize.
func Simplex(bufSize int) *Channel {
	q := make(chan pipeline.Message, bufSize)
	closed := make(chan struct{})
	return &Channel{
		tx: &Tx{queue: q, closed: closed},
		rx: &Rx{queue: q, closed: closed},
	}
}

// Duplex creates two Channels, each holding the send half for one
// direction and the receive half for the other, so that a takes a's
// Tx paired with b's Rx and vice versa.
func Duplex(bufSize int) (a, b *Channel) {
	ab := Simplex(bufSize) // a -> b
	ba := Simplex(bufSize) // b -> a
	a = &Channel{tx: ab.tx, rx: ba.rx}
	b = &Channel{tx: ba.tx, rx: ab.rx}
	return a, b
}

// Split returns both ends of the Channel and consumes it. Calling
// Split after TxTake/RxTake has already removed an end returns an
// error for that end having already been taken.
func (c *Channel) Split() (*Tx, *Rx, error) {
	tx, ok := c.TxTake()
	if !ok {
		return nil, nil, fmt.Errorf("ipc: channel's tx half already taken")
	}
	rx, ok := c.RxTake()
	if !ok {
		return nil, nil, fmt.Errorf("ipc: channel's rx half already taken")
	}
	return tx, rx, nil
}

// TxTake removes and returns the send half, or ok=false if it was
// already taken.
func (c *Channel) TxTake() (tx *Tx, ok bool) {
	tx, c.tx = c.tx, nil
	return tx, tx != nil
}

// RxTake removes and returns the receive half, or ok=false if it was
// already taken.
func (c *Channel) RxTake() (rx *Rx, ok bool) {
	rx, c.rx = c.rx, nil
	return rx, rx != nil
}
