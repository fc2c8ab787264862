package syncclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PushConn is an established push channel.
type PushConn interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// PushDialer opens push channels. Dial must return promptly once ctx is done.
type PushDialer interface {
	Dial(ctx context.Context) (PushConn, error)
}

// WebSocketDialer dials the server's /ws endpoint.
type WebSocketDialer struct {
	URL          string
	Header       http.Header
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context) (PushConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func (c *wsConn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
