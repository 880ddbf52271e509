package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/grayareahq/wasmpipe/pipeline"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := pipeline.Message{Topic: "frames", Data: []byte("hello wasm")}

	if err := Encode(&buf, want); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Topic != want.Topic || !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("Decode() = %+v, want %+v", got, want)
	}
}

func TestEncodeRejectsOversizeData(t *testing.T) {
	var buf bytes.Buffer
	msg := pipeline.Message{Topic: "frames", Data: make([]byte, pipeline.MaxMessageBytes+1)}

	err := Encode(&buf, msg)
	if !errors.Is(err, pipeline.ErrOversizeMessage) {
		t.Fatalf("Encode() error = %v, want errors.Is(_, ErrOversizeMessage)", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("Encode() wrote %d bytes despite rejecting the message", buf.Len())
	}
}

func TestDecodeEOFOnEmptyStream(t *testing.T) {
	_, err := Decode(&bytes.Buffer{})
	if err != io.EOF {
		t.Fatalf("Decode() error = %v, want io.EOF", err)
	}
}

func TestEncodeMultipleFramesDecodeInOrder(t *testing.T) {
	var buf bytes.Buffer
	msgs := []pipeline.Message{
		{Topic: "a", Data: []byte("1")},
		{Topic: "b", Data: []byte("2")},
	}
	for _, m := range msgs {
		if err := Encode(&buf, m); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	for _, want := range msgs {
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Topic != want.Topic {
			t.Fatalf("Decode() topic = %q, want %q", got.Topic, want.Topic)
		}
	}
}
