package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/grayareahq/wasmpipe/pipeline"
)

func TestEndpointAcceptDialRoundTrip(t *testing.T) {
	ep, err := NewEndpoint()
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverBridgeCh := make(chan *bridgeOrErr, 1)
	go func() {
		b, err := ep.Accept(ctx, 4)
		serverBridgeCh <- &bridgeOrErr{b, err}
	}()

	clientBridge, err := Dial(ep.Name, 4)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientBridge.Close()

	r := <-serverBridgeCh
	if r.err != nil {
		t.Fatalf("Accept: %v", r.err)
	}
	defer r.bridge.Close()

	want := pipeline.Message{Topic: "frames", Data: []byte("hello")}
	if err := clientBridge.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := r.bridge.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Topic != want.Topic {
		t.Fatalf("Recv() = %+v, want %+v", got, want)
	}
}

type bridgeOrErr struct {
	bridge interface {
		Send(pipeline.Message) error
		Recv() (pipeline.Message, error)
		Close() error
	}
	err error
}
