// Package pipeline defines the data model shared by the supervisor and
// stage processes: messages, error kinds, and the YAML configuration
// schemas that describe a pipeline and its stages.
package pipeline

import (
	"fmt"
	"unicode/utf8"
)

// MaxMessageBytes bounds the size of a single Message's Data payload.
// A stage receiving or emitting a larger payload fails with ErrOversizeMessage.
const MaxMessageBytes = 1 << 20 // 1 MiB

// MaxTopicBytes bounds the length of a Message's Topic field.
const MaxTopicBytes = 255

// Message is the unit of data exchanged between stages over a Bridge.
// Once constructed, Data is never mutated in place; the router clones
// it when fanning out to more than one subscriber.
type Message struct {
	Topic string
	Data  []byte
}

// Validate checks the structural invariants of a Message: a non-empty
// topic of bounded length, and a payload within MaxMessageBytes. Every
// returned error wraps the Kind sentinel it corresponds to, so
// errors.Is(err, pipeline.ErrOversizeMessage) matches regardless of
// where Validate is called from (wire.Decode, the wasm host adapter, ...).
func (m Message) Validate() error {
	if m.Topic == "" {
		return fmt.Errorf("pipeline: message topic must not be empty: %w", ErrConfigInvalid)
	}
	if len(m.Topic) > MaxTopicBytes {
		return fmt.Errorf("pipeline: message topic exceeds %d bytes: %w", MaxTopicBytes, ErrOversizeMessage)
	}
	if !utf8.ValidString(m.Topic) {
		return fmt.Errorf("pipeline: message topic is not valid UTF-8: %w", ErrConfigInvalid)
	}
	if len(m.Data) > MaxMessageBytes {
		return fmt.Errorf("pipeline: message data exceeds %d bytes: %w", MaxMessageBytes, ErrOversizeMessage)
	}
	return nil
}

// Clone returns a Message with its own copy of Data, leaving the
// receiver's backing array untouched. Used by the router when a topic
// fans out to more than one subscriber.
func (m Message) Clone() Message {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	return Message{Topic: m.Topic, Data: data}
}
