package consensus

import (
	"context"

	"go.uber.org/zap"
)

// Transport delivers one message to one peer. Delivery is best-effort; the returned
// error is only used for logging and metrics.
type Transport interface {
	Send(ctx context.Context, peer int, msg Message) error
}

// Broadcaster records a participant's own vote and fans it out to every other participant.
type Broadcaster struct {
	identity  Identity
	ledger    *Ledger
	transport Transport
	recorder  Recorder
	logger    *zap.SugaredLogger
}

// NewBroadcaster creates a broadcaster for identity.
func NewBroadcaster(identity Identity, ledger *Ledger, transport Transport, recorder Recorder, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		identity:  identity,
		ledger:    ledger,
		transport: transport,
		recorder:  recorder,
		logger:    logger,
	}
}

// Broadcast records the vote locally, then sends it to every peer in index order.
// A failure for one peer does not stop delivery to the others and is never returned.
func (b *Broadcaster) Broadcast(ctx context.Context, round int, phase Phase, value Value) Message {
	msg := Message{
		SenderID: b.identity.ID,
		Round:    round,
		Phase:    phase,
		Value:    value,
	}

	if b.identity.Faulty || ctx.Err() != nil {
		return msg
	}
	b.ledger.Append(msg)

	for peer := 0; peer < b.identity.N; peer++ {
		if peer == b.identity.ID {
			continue
		}
		if err := b.transport.Send(ctx, peer, msg); err != nil {
			b.recorder.BroadcastFailed()
			b.logger.Debugw("Delivery failed", "peer", peer, "round", round, "phase", phase, "error", err)
		}
	}
	return msg
}
