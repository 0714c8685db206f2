package search

import (
	"sync"

	"github.com/osctools/gpuscout/internal/domain"
)

// Multiplexer fans search events out to any number of subscribers, each on
// its own buffered channel. Slow subscribers drop events rather than stall
// the search goroutine.
type Multiplexer struct {
	mu   sync.Mutex
	subs map[int]chan domain.Event
	next int
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{subs: make(map[int]chan domain.Event)}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed on cancel.
func (m *Multiplexer) Subscribe() (<-chan domain.Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	ch := make(chan domain.Event, 64)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Emit delivers ev to every subscriber. Safe to pass as an
// Options.OnEvent callback.
func (m *Multiplexer) Emit(ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
