package pipeline

import (
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error // nil means no error expected
	}{
		{"ok", Message{Topic: "frames", Data: []byte("hi")}, nil},
		{"empty topic", Message{Topic: "", Data: []byte("hi")}, ErrConfigInvalid},
		{"oversize data", Message{Topic: "frames", Data: make([]byte, MaxMessageBytes+1)}, ErrOversizeMessage},
		{"oversize topic", Message{Topic: string(make([]byte, MaxTopicBytes+1)), Data: nil}, ErrOversizeMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want errors.Is(_, %v)", err, tt.wantErr)
			}
		})
	}
}

func TestMessageClone(t *testing.T) {
	m := Message{Topic: "frames", Data: []byte{1, 2, 3}}
	c := m.Clone()

	c.Data[0] = 9
	if m.Data[0] == 9 {
		t.Fatalf("Clone() shares backing array with original")
	}
	if c.Topic != m.Topic {
		t.Fatalf("Clone() topic = %q, want %q", c.Topic, m.Topic)
	}
}
