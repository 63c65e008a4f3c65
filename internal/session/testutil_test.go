package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"digit-trader/internal/clock"
	"digit-trader/internal/deriv"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeAPI is a scripted streaming API server.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	requests [][]map[string]any // per connection
	writeMu  sync.Mutex
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer c.Close()

	f.mu.Lock()
	idx := len(f.conns)
	f.conns = append(f.conns, c)
	f.requests = append(f.requests, nil)
	f.mu.Unlock()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(raw, &req); err != nil {
			f.t.Errorf("bad request %s: %v", raw, err)
			return
		}
		f.mu.Lock()
		f.requests[idx] = append(f.requests[idx], req)
		f.mu.Unlock()

		if reply := f.reply(idx, req); reply != nil {
			f.send(c, reply)
		}
	}
}

func (f *fakeAPI) reply(conn int, req map[string]any) map[string]any {
	id := req["req_id"]
	switch {
	case req["authorize"] != nil:
		if req["authorize"] == "bad-token" {
			return map[string]any{
				"msg_type": "authorize", "req_id": id,
				"error": map[string]any{"code": "InvalidToken", "message": "The token is invalid."},
			}
		}
		return map[string]any{"msg_type": "authorize", "req_id": id, "authorize": map[string]any{"loginid": "CR100"}}
	case req["ticks"] != nil:
		return map[string]any{
			"msg_type": "tick", "req_id": id,
			"tick":         map[string]any{"symbol": req["ticks"], "quote": 1234.56, "epoch": 1700000000, "pip_size": 2},
			"subscription": map[string]any{"id": subID("tick", conn)},
		}
	case req["balance"] != nil:
		return map[string]any{
			"msg_type": "balance", "req_id": id,
			"balance":      map[string]any{"balance": 100, "currency": "USD"},
			"subscription": map[string]any{"id": subID("balance", conn)},
		}
	case req["ping"] != nil:
		return map[string]any{"msg_type": "ping", "ping": "pong", "req_id": id}
	case req["proposal"] != nil:
		return map[string]any{
			"msg_type": "proposal", "req_id": id,
			"error": map[string]any{"code": "InvalidSymbol", "message": "Symbol R_999 is invalid."},
		}
	}
	return nil
}

func subID(prefix string, conn int) string {
	return prefix + "-" + string(rune('a'+conn))
}

func (f *fakeAPI) send(c *websocket.Conn, v any) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	c.WriteJSON(v)
}

// push writes a frame on the latest connection.
func (f *fakeAPI) push(v any) {
	f.mu.Lock()
	c := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	f.send(c, v)
}

// drop closes the latest connection without a close handshake.
func (f *fakeAPI) drop() {
	f.mu.Lock()
	c := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	c.UnderlyingConn().Close()
}

func (f *fakeAPI) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeAPI) requestsOn(conn int) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn >= len(f.requests) {
		return nil
	}
	return append([]map[string]any(nil), f.requests[conn]...)
}

// fakeConn is an in-memory Conn for clock-driven tests.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, string(b))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out fakeConns; after the first `ok` dials it fails.
type fakeDialer struct {
	clock clock.Clock
	ok    int

	mu    sync.Mutex
	dials []int64 // fake-clock unix seconds of each dial
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (deriv.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, d.clock.Now().Unix())
	if len(d.dials) > d.ok {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialTimes() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.dials...)
}
