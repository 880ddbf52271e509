package ipc

import (
	"testing"
	"time"

	"github.com/grayareahq/wasmpipe/pipeline"
)

func TestSimplexSendRecv(t *testing.T) {
	ch := Simplex(1)
	tx, ok := ch.TxTake()
	if !ok {
		t.Fatalf("TxTake: not ok")
	}
	rx, ok := ch.RxTake()
	if !ok {
		t.Fatalf("RxTake: not ok")
	}

	want := pipeline.Message{Topic: "frames", Data: []byte("hi")}
	if err := tx.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := rx.Recv(nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Topic != want.Topic {
		t.Fatalf("Recv() = %+v, want %+v", got, want)
	}
}

func TestTxTakeSecondCallFails(t *testing.T) {
	ch := Simplex(1)
	if _, ok := ch.TxTake(); !ok {
		t.Fatalf("first TxTake: not ok")
	}
	if _, ok := ch.TxTake(); ok {
		t.Fatalf("second TxTake: expected ok=false")
	}
}

func TestDuplexCrossWiring(t *testing.T) {
	a, b := Duplex(1)
	aTx, _ := a.TxTake()
	bRx, _ := b.RxTake()

	msg := pipeline.Message{Topic: "x", Data: []byte("1")}
	if err := aTx.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := bRx.Recv(nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Topic != "x" {
		t.Fatalf("Recv() = %+v", got)
	}
}

func TestTxCloseUnblocksRecv(t *testing.T) {
	ch := Simplex(1)
	tx, _ := ch.TxTake()
	rx, _ := ch.RxTake()

	tx.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := rx.Recv(nil); err != pipeline.ErrChannelClosed {
			t.Errorf("Recv() error = %v, want ErrChannelClosed", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Recv did not unblock after Close")
	}
}
