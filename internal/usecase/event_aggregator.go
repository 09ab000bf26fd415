// Package usecase holds the session orchestrator and its collaborators.
package usecase

import (
	"sync"

	"parley/internal/domain"
)

// EventAggregator folds the raw bidirectional event stream into a compact
// log: consecutive events of the same type collapse into one entry with an
// incremented count, so bursts of audio deltas do not swamp the log.
type EventAggregator struct {
	mu      sync.Mutex
	entries []domain.RealtimeEvent
}

func NewEventAggregator() *EventAggregator {
	return &EventAggregator{}
}

// Record folds one raw event into the log.
func (a *EventAggregator) Record(ev domain.RealtimeEvent) {
	if ev.Count <= 0 {
		ev.Count = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.entries); n > 0 {
		last := &a.entries[n-1]
		if last.Type == ev.Type && last.Source == ev.Source {
			last.Count += ev.Count
			last.Time = ev.Time
			last.Payload = ev.Payload
			return
		}
	}
	a.entries = append(a.entries, ev)
}

// Entries returns a copy of the folded log in arrival order.
func (a *EventAggregator) Entries() []domain.RealtimeEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.RealtimeEvent, len(a.entries))
	copy(out, a.entries)
	return out
}

// Reset clears the log.
func (a *EventAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}
