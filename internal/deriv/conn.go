// Package deriv is the client side of the brokerage streaming API: typed
// requests, decoded inbound messages, request correlation and the WebSocket
// transport.
package deriv

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open duplex connection carrying JSON frames.
type Conn interface {
	// WriteJSON sends one frame. Safe for concurrent use.
	WriteJSON(v any) error
	// ReadMessage blocks for the next frame. Single reader only.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Endpoint builds the streaming API URL for a server and app id.
func Endpoint(server, appID string) string {
	u := url.URL{
		Scheme: "wss",
		Host:   server,
		Path:   "/websockets/v3",
	}
	q := url.Values{}
	q.Set("app_id", appID)
	q.Set("l", "EN")
	u.RawQuery = q.Encode()
	return u.String()
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// WriteTimeout is the deadline for each outbound frame.
	WriteTimeout time.Duration
	// ReadTimeout is the deadline for each inbound frame. The session
	// watchdog usually fires first.
	ReadTimeout time.Duration
	// ReadLimit caps the size of one inbound frame.
	ReadLimit int64
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	config WSConfig
}

// NewWSDialer creates a dialer. nil config uses DefaultWSConfig.
func NewWSDialer(config *WSConfig) *WSDialer {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	return &WSDialer{config: cfg}
}

// Dial opens a connection to endpoint.
func (d *WSDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.config.ReadLimit > 0 {
		conn.SetReadLimit(d.config.ReadLimit)
	}
	return &wsConn{conn: conn, config: d.config}, nil
}

type wsConn struct {
	conn   *websocket.Conn
	config WSConfig

	writeMu sync.Mutex
	closeMu sync.Once
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if c.config.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
