// Package edgequeue provides an unbounded FIFO of GPIO edge events. The
// transport delivers edges on its own execution context and must never block,
// so the queue grows as needed; the classifier drains it on a dedicated
// consumer goroutine.
package edgequeue

// Event is one observed edge on a monitored GPIO line.
type Event struct {
	Line  int    // which line changed
	Level uint8  // new logic level, 0 or 1
	Tick  uint32 // microseconds since an arbitrary origin; wraps every ~72 minutes
}

// Queue is an unbounded queue of Events, entered and removed via channels.
type Queue struct {
	in      chan Event
	out     chan Event
	pending []Event
}

// NewQueue creates a Queue and starts its forwarding goroutine.
func NewQueue() *Queue {
	q := &Queue{
		in:  make(chan Event),
		out: make(chan Event),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		if len(q.pending) == 0 {
			ev, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.pending = append(q.pending, ev)
			continue
		}
		select {
		case q.out <- q.pending[0]:
			q.pending = q.pending[1:]
		case ev, ok := <-q.in:
			if !ok {
				// Input closed: drain what remains, then close the output.
				for _, pending := range q.pending {
					q.out <- pending
				}
				close(q.out)
				return
			}
			q.pending = append(q.pending, ev)
		}
	}
}

// In returns the channel on which the transport delivers edges.
// Close it to end the queue once all producers are cancelled.
func (q *Queue) In() chan<- Event {
	return q.in
}

// Out returns the channel on which the consumer receives edges, in order.
func (q *Queue) Out() <-chan Event {
	return q.out
}
