package consensus

import (
	"sort"
	"sync"
)

type bucketKey struct {
	round int
	phase Phase
}

// Ledger stores every vote recorded for each (round, phase). Entries are never removed
// or deduplicated: tallies count raw entries, not distinct senders.
type Ledger struct {
	mu      sync.Mutex
	buckets map[bucketKey][]Message
	changed chan struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		buckets: make(map[bucketKey][]Message),
		changed: make(chan struct{}),
	}
}

// Append adds msg to its (round, phase) bucket and wakes every waiter.
func (l *Ledger) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{round: msg.Round, phase: msg.Phase}
	l.buckets[key] = append(l.buckets[key], msg)

	close(l.changed)
	l.changed = make(chan struct{})
}

// Size returns the number of entries for (round, phase).
func (l *Ledger) Size(round int, phase Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[bucketKey{round: round, phase: phase}])
}

// CountByValue returns the number of entries for (round, phase) whose value is exactly value.
func (l *Ledger) CountByValue(round int, phase Phase, value Value) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, msg := range l.buckets[bucketKey{round: round, phase: phase}] {
		if msg.Value == value {
			count++
		}
	}
	return count
}

// Watch returns the current size of (round, phase) together with a channel that is
// closed by the next Append to any bucket. Callers re-check the size after a wakeup. Both
// are read under the same lock so no append is missed.
func (l *Ledger) Watch(round int, phase Phase) (int, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[bucketKey{round: round, phase: phase}]), l.changed
}

// Len returns the total number of entries across all buckets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, bucket := range l.buckets {
		total += len(bucket)
	}
	return total
}

// Snapshot returns a copy of all entries ordered by round, phase and insertion order.
func (l *Ledger) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]bucketKey, 0, len(l.buckets))
	total := 0
	for key, bucket := range l.buckets {
		keys = append(keys, key)
		total += len(bucket)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].round != keys[j].round {
			return keys[i].round < keys[j].round
		}
		return keys[i].phase < keys[j].phase
	})

	out := make([]Message, 0, total)
	for _, key := range keys {
		out = append(out, l.buckets[key]...)
	}
	return out
}
