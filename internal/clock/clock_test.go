package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int

	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("after 2s fired %v, want [1 2]", order)
	}

	c.Advance(time.Second)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("after 3s fired %v, want [1 2 3]", order)
	}
}

func TestFake_CallbackSeesItsDueTime(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(5*time.Second, func() { seen = c.Now() })

	c.Advance(time.Minute)

	if !seen.Equal(start.Add(5 * time.Second)) {
		t.Errorf("callback saw %v, want %v", seen, start.Add(5*time.Second))
	}
	if !c.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("clock at %v after advance", c.Now())
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("first Stop should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestEvery_RepeatsUntilStopped(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	n := 0
	tm := Every(c, 5*time.Second, func() { n++ })

	c.Advance(16 * time.Second)
	if n != 3 {
		t.Fatalf("fired %d times in 16s at 5s interval, want 3", n)
	}

	tm.Stop()
	c.Advance(time.Minute)
	if n != 3 {
		t.Errorf("fired after stop: %d", n)
	}
	if c.Pending() != 0 {
		t.Errorf("pending timers after stop: %d", c.Pending())
	}
}
