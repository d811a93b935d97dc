package stream

import (
	"sync"

	"github.com/ashureev/fsagent/internal/agent"
)

// Backlog is a fixed-size ring of run events.
// Late subscribers replay it before receiving live events; once full the
// oldest events are overwritten.
type Backlog struct {
	buf  []agent.Event
	size int
	head int // write position
	full bool
	mu   sync.RWMutex
}

// NewBacklog creates a backlog holding at most size events.
func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = 256
	}
	return &Backlog{
		buf:  make([]agent.Event, size),
		size: size,
	}
}

// Add appends an event, overwriting the oldest when full.
func (b *Backlog) Add(event agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.head] = event
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.full = true
	}
}

// Events returns the buffered events, oldest first.
func (b *Backlog) Events() []agent.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]agent.Event, b.head)
		copy(out, b.buf[:b.head])
		return out
	}
	out := make([]agent.Event, 0, b.size)
	out = append(out, b.buf[b.head:]...)
	return append(out, b.buf[:b.head]...)
}

// Len returns the number of buffered events.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return b.size
	}
	return b.head
}
