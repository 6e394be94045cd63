// Package progress fans bootstrap iteration counts out to subscribers,
// one stream per run.
package progress

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer absorbs publish bursts; a full buffer drops the oldest
// event so subscribers always converge on the latest count.
const subscriberBuffer = 16

// Event is one progress update for a run.
type Event struct {
	RunID string `json:"run_id"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Finished reports whether this is the terminal event of its run.
func (e Event) Finished() bool {
	return e.Total > 0 && e.Done >= e.Total
}

// Broker routes events to per-run subscribers. Publishing never blocks:
// slow subscribers observe the latest events, not necessarily every event.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	closed atomic.Bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers for events of one run. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once. The channel also closes when the broker closes.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan Event]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed.Load() {
				return
			}
			if set, ok := b.subs[runID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, runID)
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to current subscribers of its run.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}

	for ch := range b.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			// Make room by discarding the oldest buffered event.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close closes every subscriber channel. Publish and Subscribe become
// no-ops afterwards.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}

	for runID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, runID)
	}
}
