package transfer

import (
	"context"
	"io"
	"sync"
)

// EventKind discriminates the payload of an Event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventEntry
	// EventDone carries the terminal Outcome. Nothing follows it.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventEntry:
		return "entry"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is one notification of a request.
type Event struct {
	Kind     EventKind
	Progress Progress
	Entry    DirEntry
	Outcome  Outcome
}

// Terminal reports whether the event is the final event of its request.
func (e Event) Terminal() bool {
	return e.Kind == EventDone
}

// DefaultCapacity is the buffer size used when NewChannel gets a non-positive size.
const DefaultCapacity = 64

// Channel delivers the events of one request from a single producer to a
// single consumer, in order. Publishing never blocks: when the buffer is
// full the oldest progress event is discarded. Entries and the terminal
// outcome are never discarded.
// Mutable
type Channel struct {
	mu       sync.Mutex
	capacity int
	queue    []Event
	finished bool
	drained  bool
	outcome  Outcome
	dropped  int

	wake chan struct{}
	done chan struct{}

	fwdOnce sync.Once
	fwd     chan Event
}

var _ Observer = (*Channel)(nil)

// NewChannel creates a Channel buffering up to capacity non-terminal events.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		capacity: capacity,
		queue:    make([]Event, 0, capacity),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Progress publishes a progress event.
func (c *Channel) Progress(p Progress) {
	c.publish(Event{Kind: EventProgress, Progress: p})
}

// Entry publishes a listing entry event.
func (c *Channel) Entry(e DirEntry) {
	c.publish(Event{Kind: EventEntry, Entry: e})
}

// Finish publishes the terminal outcome. It returns false if the channel
// was already finished, in which case o is discarded.
func (c *Channel) Finish(o Outcome) bool {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return false
	}
	c.finished = true
	c.outcome = o
	c.queue = append(c.queue, Event{Kind: EventDone, Outcome: o})
	c.signal()
	c.mu.Unlock()

	close(c.done)
	return true
}

func (c *Channel) publish(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return false
	}
	if len(c.queue) >= c.capacity {
		c.dropOldestProgress()
	}
	c.queue = append(c.queue, ev)
	c.signal()
	return true
}

// dropOldestProgress must be called with mu held.
func (c *Channel) dropOldestProgress() {
	for i := range c.queue {
		if c.queue[i].Kind != EventProgress {
			continue
		}
		copy(c.queue[i:], c.queue[i+1:])
		c.queue[len(c.queue)-1] = Event{}
		c.queue = c.queue[:len(c.queue)-1]
		c.dropped++
		return
	}
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Next returns the next event. After the terminal event was returned it
// reports io.EOF. It blocks until an event is available or ctx is done.
func (c *Channel) Next(ctx context.Context) (Event, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue[0] = Event{}
			c.queue = c.queue[1:]
			if ev.Terminal() {
				c.drained = true
			}
			c.mu.Unlock()
			return ev, nil
		}
		drained := c.drained
		c.mu.Unlock()

		if drained {
			return Event{}, io.EOF
		}

		select {
		case <-c.wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// C returns a Go channel that yields every remaining event and is closed
// after the terminal one. The caller must drain it; it is meant for
// consumers that prefer select over Next.
func (c *Channel) C() <-chan Event {
	c.fwdOnce.Do(func() {
		c.fwd = make(chan Event)
		go func() {
			defer close(c.fwd)
			for {
				ev, err := c.Next(context.Background())
				if err != nil {
					return
				}
				c.fwd <- ev
			}
		}()
	})
	return c.fwd
}

// Done is closed once the terminal outcome has been published.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the terminal outcome, if it has been published.
func (c *Channel) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.finished
}

// Wait blocks until the terminal outcome is published or ctx is done.
func (c *Channel) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		o, _ := c.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Dropped returns how many progress events were discarded on overflow.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
