// Package wire implements the length-prefixed CBOR encoding used to
// send pipeline.Message values across a Bridge's underlying net.Conn.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/grayareahq/wasmpipe/pipeline"
)

// MaxFrameBytes bounds the encoded frame size accepted by Decode,
// independent of pipeline.MaxMessageBytes, to leave headroom for CBOR
// framing overhead.
const MaxFrameBytes = pipeline.MaxMessageBytes + 4096

type wireMessage struct {
	Topic string `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
}

// Encode serializes msg as a 4-byte big-endian length prefix followed
// by its CBOR encoding, and writes both to w. The oversize check is
// against the raw Data length and pipeline.MaxMessageBytes, the same
// bound every other layer (Message.Validate, the wasm host adapter)
// enforces — not the larger, framing-overhead-padded MaxFrameBytes,
// which would let a message slightly over the real limit through
// unrejected by the sender.
func Encode(w io.Writer, msg pipeline.Message) error {
	if len(msg.Data) > pipeline.MaxMessageBytes {
		return fmt.Errorf("wire: message data of %d bytes exceeds limit of %d: %w", len(msg.Data), pipeline.MaxMessageBytes, pipeline.ErrOversizeMessage)
	}

	body, err := cbor.Marshal(wireMessage{Topic: msg.Topic, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("wire: encoding message: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed CBOR frame from r and returns the
// decoded Message. It returns io.EOF unmodified when r is closed
// cleanly between frames.
func Decode(r io.Reader) (pipeline.Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return pipeline.Message{}, err
	}

	frameLen := binary.BigEndian.Uint32(lenPrefix[:])
	if frameLen > MaxFrameBytes {
		return pipeline.Message{}, fmt.Errorf("wire: frame of %d bytes exceeds limit of %d: %w", frameLen, MaxFrameBytes, pipeline.ErrOversizeMessage)
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return pipeline.Message{}, fmt.Errorf("wire: reading frame body: %w", err)
	}

	var wm wireMessage
	if err := cbor.Unmarshal(body, &wm); err != nil {
		return pipeline.Message{}, fmt.Errorf("wire: decoding message: %w", err)
	}

	msg := pipeline.Message{Topic: wm.Topic, Data: wm.Data}
	if err := msg.Validate(); err != nil {
		return pipeline.Message{}, err
	}
	return msg, nil
}
