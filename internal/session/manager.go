// Package session owns the single connection to the streaming API: it
// authorizes, keeps the link alive, reconnects with backoff and replays
// active subscriptions afterwards.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"digit-trader/internal/clock"
	"digit-trader/internal/deriv"
	"digit-trader/internal/domain"
	"digit-trader/internal/observability"
)

// State is the connection state.
type State string

// Session states
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateAuthorized   State = "authorized"
	StateUnauthorized State = "unauthorized"
	StateError        State = "error" // reconnect attempts exhausted; needs a manual restart
)

// Session errors.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAuthorization      = errors.New("authorization failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSilentConnection   = errors.New("no message received within silence timeout")
	ErrClosed             = errors.New("session closed")
)

// Config configures the session manager.
type Config struct {
	Endpoint string
	Token    string

	HeartbeatInterval    time.Duration
	WatchdogInterval     time.Duration
	SilenceTimeout       time.Duration
	Backoff              []time.Duration // last entry repeats
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	ReconnectTimeout     time.Duration // dial + reauthorize + replay budget

	// Outbound request rate; <= 0 disables limiting.
	RequestsPerSecond float64
	Burst             int

	Clock clock.Clock // nil uses the wall clock
}

// DefaultConfig returns default session configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		WatchdogInterval:     5 * time.Second,
		SilenceTimeout:       10 * time.Second,
		Backoff:              []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second},
		MaxReconnectAttempts: 10,
		RequestTimeout:       deriv.DefaultRequestTimeout,
		ReconnectTimeout:     30 * time.Second,
		RequestsPerSecond:    10,
		Burst:                20,
	}
}

// Subscription is a stream the manager replays after reconnecting.
type Subscription struct {
	Key     int64
	Type    domain.SubscriptionType
	Request deriv.Request
	ID      string // exchange-assigned, rebound on replay
}

// Manager drives one session.
type Manager struct {
	cfg     Config
	dialer  deriv.Dialer
	clock   clock.Clock
	corr    *deriv.Correlator
	limiter *rate.Limiter
	logger  *log.Logger

	onMessage func(deriv.Message)
	onState   func(State)
	onError   func(error)

	mu         sync.Mutex
	state      State
	conn       deriv.Conn
	gen        uint64
	lastRecv   time.Time
	attempts   int
	heartbeat  clock.Timer
	watchdog   clock.Timer
	retryTimer clock.Timer
	subs       map[int64]*Subscription
	nextSubKey int64
	closed     bool

	wg sync.WaitGroup
}

// New creates a manager. Callbacks must be registered before Connect.
func New(cfg Config, dialer deriv.Dialer, logger *log.Logger) *Manager {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = def.ReconnectTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = log.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		clock:   cfg.Clock,
		corr:    deriv.NewCorrelator(cfg.Clock, cfg.RequestTimeout),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		state:   StateDisconnected,
		subs:    make(map[int64]*Subscription),
	}
}

// OnMessage registers the handler for stream traffic (ticks, contract
// updates, balance).
func (m *Manager) OnMessage(fn func(deriv.Message)) { m.onMessage = fn }

// OnState registers the state change callback.
func (m *Manager) OnState(fn func(State)) { m.onState = fn }

// OnError registers the callback for transport, session and API errors.
func (m *Manager) OnError(fn func(error)) { m.onError = fn }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authorized reports whether the session is authorized.
func (m *Manager) Authorized() bool {
	return m.State() == StateAuthorized
}

// PendingRequests returns the number of requests awaiting a reply.
func (m *Manager) PendingRequests() int {
	return m.corr.Len()
}

// Subscriptions returns a snapshot of the active subscriptions.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Connect dials, starts reading and authorizes when a token is configured.
// An authorization failure is returned but the transport stays open.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return m.authorize(ctx)
}

// dial opens a connection and installs it as the current generation.
func (m *Manager) dial(ctx context.Context) error {
	m.setState(StateConnecting)

	conn, err := m.dialer.Dial(ctx, m.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.lastRecv = m.clock.Now()
	m.heartbeat = clock.Every(m.clock, m.cfg.HeartbeatInterval, m.sendHeartbeat)
	m.watchdog = clock.Every(m.clock, m.cfg.WatchdogInterval, m.checkLiveness)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	m.setState(StateConnected)
	return nil
}

func (m *Manager) authorize(ctx context.Context) error {
	if m.cfg.Token == "" {
		return nil
	}
	_, err := m.Request(ctx, deriv.NewAuthorize(m.cfg.Token))
	if err != nil {
		var apiErr *deriv.APIError
		if errors.As(err, &apiErr) {
			m.setState(StateUnauthorized)
			return fmt.Errorf("%w: %v", ErrAuthorization, apiErr)
		}
		return fmt.Errorf("authorize: %w", err)
	}
	m.setState(StateAuthorized)
	return nil
}

// Send writes req without awaiting a reply.
func (m *Manager) Send(ctx context.Context, req deriv.Request) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return m.write(req)
}

// Dispatch stamps req with a fresh id, writes it and returns the completion
// handle without waiting.
func (m *Manager) Dispatch(ctx context.Context, req deriv.Request) (*deriv.Pending, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	id, p := m.corr.Register()
	req.SetReqID(id)
	if err := m.write(req); err != nil {
		m.corr.Reject(id, err)
		return nil, err
	}
	observability.UpdatePendingRequests(m.corr.Len())
	return p, nil
}

// Request sends req and waits for the correlated reply. An error envelope
// is returned as *deriv.APIError.
func (m *Manager) Request(ctx context.Context, req deriv.Request) (deriv.Message, error) {
	start := m.clock.Now()
	p, err := m.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	msg, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordRequestLatency(msg.Type(), m.clock.Now().Sub(start).Seconds())
	return msg, nil
}

// Subscribe opens a stream and records it for replay after reconnects.
// The first stream message is returned.
func (m *Manager) Subscribe(ctx context.Context, typ domain.SubscriptionType, req deriv.Request) (*Subscription, deriv.Message, error) {
	msg, err := m.Request(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.nextSubKey++
	sub := &Subscription{Key: m.nextSubKey, Type: typ, Request: req, ID: msg.SubscriptionID()}
	m.subs[sub.Key] = sub
	out := *sub
	m.mu.Unlock()

	return &out, msg, nil
}

// Unsubscribe drops a subscription from the replay set.
func (m *Manager) Unsubscribe(key int64) {
	m.mu.Lock()
	delete(m.subs, key)
	m.mu.Unlock()
}

// ForgetAll cancels server streams of the given types and drops them from
// the replay set.
func (m *Manager) ForgetAll(ctx context.Context, types ...domain.SubscriptionType) error {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, forgetName(t))
	}
	m.mu.Lock()
	for k, s := range m.subs {
		for _, t := range types {
			if s.Type == t {
				delete(m.subs, k)
			}
		}
	}
	m.mu.Unlock()
	_, err := m.Request(ctx, &deriv.ForgetAllRequest{ForgetAll: names})
	return err
}

func forgetName(t domain.SubscriptionType) string {
	if t == domain.SubscriptionContract {
		return deriv.TypeOpenContract
	}
	return string(t)
}

func (m *Manager) write(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

func (m *Manager) readLoop(conn deriv.Conn, gen uint64) {
	defer m.wg.Done()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}
		if !m.handleFrame(gen, raw) {
			return
		}
	}
}

// handleFrame processes one inbound frame. Returns false when the frame
// belongs to a superseded connection.
func (m *Manager) handleFrame(gen uint64, raw []byte) bool {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return false
	}
	m.lastRecv = m.clock.Now()
	m.mu.Unlock()

	msg, err := deriv.Decode(raw)
	if err != nil {
		m.logger.Printf("drop frame: %v", err)
		return true
	}
	observability.RecordInbound(msg.Type())

	if apiErr := msg.Err(); apiErr != nil {
		observability.RecordAPIError(apiErr.Code)
		if msg.ReqID() != 0 {
			m.corr.Reject(msg.ReqID(), apiErr)
		}
		m.reportError(fmt.Errorf("%s: %w", msg.Type(), apiErr))
		return true
	}

	if ping, ok := msg.(*deriv.PingMessage); ok && !ping.IsReply() {
		if err := m.write(deriv.NewPong()); err != nil {
			m.logger.Printf("pong: %v", err)
		}
		return true
	}

	resolved := msg.ReqID() != 0 && m.corr.Resolve(msg.ReqID(), msg)
	observability.UpdatePendingRequests(m.corr.Len())

	if isStream(msg) && (msg.SubscriptionID() != "" || !resolved) {
		if m.onMessage != nil {
			m.onMessage(msg)
		}
	}
	return true
}

func isStream(msg deriv.Message) bool {
	switch msg.(type) {
	case *deriv.TickMessage, *deriv.OpenContractMessage, *deriv.BalanceMessage:
		return true
	}
	return false
}

func (m *Manager) sendHeartbeat() {
	if err := m.write(deriv.NewPing()); err != nil && !errors.Is(err, ErrNotConnected) {
		m.logger.Printf("heartbeat: %v", err)
	}
}

func (m *Manager) checkLiveness() {
	m.mu.Lock()
	if m.conn == nil || m.closed {
		m.mu.Unlock()
		return
	}
	silent := m.clock.Now().Sub(m.lastRecv)
	gen := m.gen
	m.mu.Unlock()

	if silent >= m.cfg.SilenceTimeout {
		m.logger.Printf("no message for %s, forcing reconnect", silent)
		m.connectionLost(gen, ErrSilentConnection)
	}
}

// connectionLost tears down generation gen and schedules a reconnect.
// Stale generations are ignored so one failure is handled once.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	m.stopTimersLocked()
	m.mu.Unlock()

	conn.Close()
	n := m.corr.RejectAll(deriv.ErrConnectionLost)
	observability.UpdatePendingRequests(0)
	m.setState(StateDisconnected)
	m.logger.Printf("connection lost (%v), rejected %d pending requests", cause, n)
	m.reportError(fmt.Errorf("%w: %v", deriv.ErrConnectionLost, cause))

	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.setState(StateError)
		m.reportError(ErrReconnectExhausted)
		return
	}
	idx := m.attempts
	if idx >= len(m.cfg.Backoff) {
		idx = len(m.cfg.Backoff) - 1
	}
	delay := m.cfg.Backoff[idx]
	m.attempts++
	attempt := m.attempts
	m.retryTimer = m.clock.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.logger.Printf("reconnect attempt %d/%d in %s", attempt, m.cfg.MaxReconnectAttempts, delay)
}

func (m *Manager) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconnectTimeout)
	defer cancel()

	if err := m.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		observability.RecordReconnect(false)
		m.logger.Printf("reconnect failed: %v", err)
		m.setState(StateDisconnected)
		m.scheduleReconnect()
		return
	}

	// On a rejected token the session stays unauthorized without replay. If
	// the link dropped mid-handshake its read loop schedules the next attempt.
	if err := m.authorize(ctx); err != nil {
		observability.RecordReconnect(false)
		m.reportError(err)
		return
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	observability.RecordReconnect(true)

	m.replay(ctx)
}

// replay re-issues every active subscription with a fresh request id.
func (m *Manager) replay(ctx context.Context) {
	subs := m.Subscriptions()
	for _, s := range subs {
		msg, err := m.Request(ctx, s.Request)
		if err != nil {
			m.logger.Printf("replay %s subscription: %v", s.Type, err)
			m.reportError(fmt.Errorf("replay %s: %w", s.Type, err))
			continue
		}
		m.mu.Lock()
		if cur, ok := m.subs[s.Key]; ok {
			cur.ID = msg.SubscriptionID()
		}
		m.mu.Unlock()
	}
	if len(subs) > 0 {
		m.logger.Printf("replayed %d subscriptions", len(subs))
	}
}

// Close shuts the session down. Pending requests fail with ErrClosed and
// no reconnect is attempted.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.stopTimersLocked()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.corr.RejectAll(deriv.ErrClosed)
	m.setState(StateDisconnected)
	m.wg.Wait()
	return err
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	observability.SetSessionState(string(s))
	if m.onState != nil {
		m.onState(s)
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
