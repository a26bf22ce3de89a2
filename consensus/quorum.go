package consensus

import (
	"context"
	"time"
)

// QuorumGate blocks the round loop until enough votes for a phase have been recorded.
type QuorumGate struct {
	ledger *Ledger
}

// NewQuorumGate creates a gate reading from ledger.
func NewQuorumGate(ledger *Ledger) *QuorumGate {
	return &QuorumGate{ledger: ledger}
}

// Await waits until the (round, phase) bucket holds at least minimum entries, timeout
// elapses or ctx is cancelled, whichever comes first. It reports whether the minimum was
// reached. Appends wake the gate directly; pollInterval only bounds the time between
// re-checks. A non-positive timeout checks once without waiting.
func (g *QuorumGate) Await(ctx context.Context, round int, phase Phase, minimum int, pollInterval, timeout time.Duration) bool {
	size, changed := g.ledger.Watch(round, phase)
	if size >= minimum {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var poll <-chan time.Time
	if pollInterval > 0 {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return g.ledger.Size(round, phase) >= minimum
		case <-changed:
		case <-poll:
		}

		size, changed = g.ledger.Watch(round, phase)
		if size >= minimum {
			return true
		}
	}
}
