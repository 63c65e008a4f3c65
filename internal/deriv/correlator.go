package deriv

import (
	"context"
	"errors"
	"sync"
	"time"

	"digit-trader/internal/clock"
)

// DefaultRequestTimeout bounds how long a reply is awaited.
const DefaultRequestTimeout = 30 * time.Second

// Correlation errors.
var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrConnectionLost = errors.New("connection lost")
	ErrClosed         = errors.New("client closed")
)

// Correlator matches replies to outbound requests by req_id.
type Correlator struct {
	clock   clock.Clock
	timeout time.Duration

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Pending
}

// NewCorrelator creates a correlator. A zero timeout uses DefaultRequestTimeout.
func NewCorrelator(c clock.Clock, timeout time.Duration) *Correlator {
	if c == nil {
		c = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		clock:   c,
		timeout: timeout,
		pending: make(map[int64]*Pending),
	}
}

// Pending is the completion handle of one in-flight request.
type Pending struct {
	id    int64
	c     *Correlator
	done  chan struct{}
	timer clock.Timer

	msg Message
	err error
}

// ID returns the request id.
func (p *Pending) ID() int64 { return p.id }

// Done is closed once the request completes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the reply, a rejection, the timeout, or ctx is done.
// Cancelling ctx removes the entry.
func (p *Pending) Wait(ctx context.Context) (Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		p.c.Reject(p.id, ctx.Err())
		<-p.done
		return p.msg, p.err
	}
}

// Register allocates the next id and starts its timeout.
func (c *Correlator) Register() (int64, *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	p := &Pending{id: id, c: c, done: make(chan struct{})}
	c.pending[id] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() {
		c.Reject(id, ErrRequestTimeout)
	})
	return id, p
}

// Resolve completes id with msg. Unknown or completed ids return false.
func (c *Correlator) Resolve(id int64, msg Message) bool {
	return c.complete(id, msg, nil)
}

// Reject completes id with err. Unknown or completed ids return false.
func (c *Correlator) Reject(id int64, err error) bool {
	return c.complete(id, nil, err)
}

// RejectAll fails every pending request, e.g. on connection loss.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	all := make([]*Pending, 0, len(c.pending))
	for id, p := range c.pending {
		all = append(all, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, p := range all {
		p.finish(nil, err)
	}
	return len(all)
}

// Len returns the number of requests awaiting a reply.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) complete(id int64, msg Message, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.finish(msg, err)
	return true
}

// finish is called once per entry, after removal from the map.
func (p *Pending) finish(msg Message, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.msg = msg
	p.err = err
	close(p.done)
}
