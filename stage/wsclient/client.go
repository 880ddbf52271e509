// Package wsclient implements the websocket input/output source a stage
// with a stream section (an "input"-kind stage) binds to: inbound frames are forwarded
// into the guest, and payloads the guest emits via
// io.send_websocket_message go out as binary frames.
package wsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grayareahq/wasmpipe/internal/log"
)

// pongWait bounds how long the connection is kept alive without a pong
// response before it is considered dead.
const pongWait = 60 * time.Second

// Client wraps a single gorilla/websocket connection, answering Ping
// with Pong automatically and treating a Close frame or read error as
// fatal to the stage, matching the upstream runtime's message
// dispatch: Text/Binary forward to the guest, Ping replies Pong,
// Close/error end the stage.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger
}

// Dial connects to url and returns a ready Client.
func Dial(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dialing %s: %w", url, err)
	}

	c := &Client{conn: conn, logger: logger}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	return c, nil
}

// ReadLoop invokes onFrame for every Text/Binary frame received, until
// a Close frame, a read error, or ctx is canceled. Ping frames are
// answered with Pong transparently. The returned error is always
// non-nil except on a clean ctx cancellation.
func (c *Client) ReadLoop(ctx context.Context, onFrame func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("wsclient: remote closed the stream: %w", err)
			}
			return fmt.Errorf("wsclient: read failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if err := onFrame(data); err != nil {
				return fmt.Errorf("wsclient: delivering frame to guest: %w", err)
			}
		case websocket.PingMessage:
			if err := c.conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				return fmt.Errorf("wsclient: replying to ping: %w", err)
			}
		case websocket.CloseMessage:
			return fmt.Errorf("wsclient: received close frame")
		}
	}
}

// Send writes data as a single binary frame, the frame type the guest's
// emitted payloads are always sent as.
func (c *Client) Send(data []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("wsclient: write failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
