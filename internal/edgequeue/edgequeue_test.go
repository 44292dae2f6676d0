package edgequeue

import (
	"testing"
)

func TestQueueOrderAndDrain(t *testing.T) {
	q := NewQueue()

	// Send more events than any internal buffering, without a consumer running,
	// to prove the producer side never blocks.
	max := 2000
	go func() {
		ch := q.In()
		for i := 0; i < max; i++ {
			ch <- Event{Line: 24, Level: 1, Tick: uint32(i)}
		}
		close(ch)
	}()

	n := 0
	for ev := range q.Out() {
		if ev.Tick != uint32(n) {
			t.Fatalf("event %d has Tick=%d, want %d (out of order)", n, ev.Tick, n)
		}
		n++
	}
	if n != max {
		t.Errorf("received %d events, want %d", n, max)
	}
}
