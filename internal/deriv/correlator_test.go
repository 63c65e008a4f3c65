package deriv

import (
	"context"
	"errors"
	"testing"
	"time"

	"digit-trader/internal/clock"
)

func TestCorrelator_IDsIncrease(t *testing.T) {
	c := NewCorrelator(clock.NewFake(time.Unix(0, 0)), 0)
	a, _ := c.Register()
	b, _ := c.Register()
	if b <= a {
		t.Errorf("ids not increasing: %d then %d", a, b)
	}
}

func TestCorrelator_Resolve(t *testing.T) {
	c := NewCorrelator(clock.NewFake(time.Unix(0, 0)), 0)
	id, p := c.Register()

	reply := &PongMessage{Header: Header{MsgType: TypePong, RequestID: id}}
	if !c.Resolve(id, reply) {
		t.Fatal("Resolve returned false for pending id")
	}
	msg, err := p.Wait(context.Background())
	if err != nil || msg != reply {
		t.Fatalf("Wait = %v, %v", msg, err)
	}
	if c.Len() != 0 {
		t.Errorf("entry not removed, len=%d", c.Len())
	}
	if c.Resolve(id, reply) {
		t.Error("second Resolve should be a no-op")
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	c := NewCorrelator(fc, 0)
	_, p := c.Register()

	fc.Advance(29 * time.Second)
	select {
	case <-p.Done():
		t.Fatal("completed before timeout")
	default:
	}

	fc.Advance(time.Second)
	_, err := p.Wait(context.Background())
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("timed out entry still pending")
	}
}

func TestCorrelator_RejectAll(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	c := NewCorrelator(fc, 0)
	_, p1 := c.Register()
	_, p2 := c.Register()

	if n := c.RejectAll(ErrConnectionLost); n != 2 {
		t.Fatalf("RejectAll rejected %d, want 2", n)
	}
	for _, p := range []*Pending{p1, p2} {
		if _, err := p.Wait(context.Background()); !errors.Is(err, ErrConnectionLost) {
			t.Errorf("expected ErrConnectionLost, got %v", err)
		}
	}
	if fc.Pending() != 0 {
		t.Errorf("timeout timers not stopped: %d", fc.Pending())
	}
}

func TestCorrelator_ContextCancelRemovesEntry(t *testing.T) {
	c := NewCorrelator(clock.NewFake(time.Unix(0, 0)), 0)
	_, p := c.Register()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("cancelled entry still pending")
	}
}

func TestCorrelator_UnknownID(t *testing.T) {
	c := NewCorrelator(nil, 0)
	if c.Resolve(42, &PongMessage{}) || c.Reject(42, errors.New("x")) {
		t.Error("unknown id should be a no-op")
	}
}
