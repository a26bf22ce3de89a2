package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/logging"
)

// Timing controls the round loop's suspension points.
type Timing struct {
	// PollInterval bounds the time between quorum re-checks.
	PollInterval time.Duration `json:"poll_interval"`
	// QuorumTimeout is how long a phase waits for MinMessages votes before tallying anyway.
	QuorumTimeout time.Duration `json:"quorum_timeout"`
	// PacingDelay is the pause after each broadcast.
	PacingDelay time.Duration `json:"pacing_delay"`
}

// DefaultTiming returns a 10ms poll, a 100ms quorum timeout and a 10ms pacing delay.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:  10 * time.Millisecond,
		QuorumTimeout: 100 * time.Millisecond,
		PacingDelay:   10 * time.Millisecond,
	}
}

// Status is the liveness indicator reported to the host.
type Status string

const (
	StatusLive   Status = "live"
	StatusFaulty Status = "faulty"
)

// Healthy reports whether the status is live.
func (s Status) Healthy() bool {
	return s == StatusLive
}

// State is a snapshot of a participant's consensus state. X, Decided and K are null
// for faulty participants.
type State struct {
	Killed  bool  `json:"killed"`
	X       Value `json:"x"`
	Decided *bool `json:"decided"`
	K       *int  `json:"k"`
}

// Option configures a Participant.
type Option func(*Participant)

// WithTiming overrides DefaultTiming.
func WithTiming(timing Timing) Option {
	return func(p *Participant) {
		p.timing = timing
	}
}

// WithLogger sets the participant logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Participant) {
		p.logger = logger
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(recorder Recorder) Option {
	return func(p *Participant) {
		p.recorder = recorder
	}
}

// WithCoin replaces the crypto-seeded coin.
func WithCoin(coin Coin) Option {
	return func(p *Participant) {
		p.coin = coin
	}
}

// Participant runs the round engine for one member of the group. At most one round is
// active at a time; inbound messages are appended concurrently through HandleMessage.
type Participant struct {
	identity Identity
	quorum   Quorum
	timing   Timing

	ledger      *Ledger
	gate        *QuorumGate
	broadcaster *Broadcaster
	coin        Coin
	recorder    Recorder
	logger      *zap.SugaredLogger

	// Guarded by mu. Only the round loop writes x, k and decided.
	mu      sync.RWMutex
	x       Value
	k       int
	decided bool
	killed  bool
	running bool
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewParticipant creates a participant in the IDLE state. initial must be Zero or One
// unless the participant is faulty.
func NewParticipant(identity Identity, initial Value, transport Transport, opts ...Option) (*Participant, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if !identity.Faulty && !initial.IsBinary() {
		return nil, fmt.Errorf("%w: initial value %s", ErrInvalidValue, initial)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidIdentity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Participant{
		identity: identity,
		quorum:   NewQuorum(identity.N, identity.F),
		timing:   DefaultTiming(),
		ledger:   NewLedger(),
		recorder: nopRecorder{},
		x:        initial,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if identity.Faulty {
		p.x = Unset
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.MustGetLogger("consensus").With("participant", identity.ID)
	}
	if p.coin == nil {
		p.coin = NewCoin()
	}

	p.gate = NewQuorumGate(p.ledger)
	p.broadcaster = NewBroadcaster(identity, p.ledger, transport, p.recorder, p.logger)
	return p, nil
}

// Identity returns the participant's fixed identity.
func (p *Participant) Identity() Identity {
	return p.identity
}

// Ledger returns the participant's message ledger.
func (p *Participant) Ledger() *Ledger {
	return p.ledger
}

// Quorum returns the thresholds used by every round.
func (p *Participant) Quorum() Quorum {
	return p.quorum
}

// Start launches the round loop. It is a no-op for faulty or stopped participants and
// for every call after the first.
func (p *Participant) Start() {
	p.mu.Lock()
	if p.identity.Faulty || p.killed || p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.running = true
	p.mu.Unlock()

	go p.run()
}

// Stop permanently halts the participant. The current round is abandoned at its next
// suspension point without applying the decision rule; inbound messages are discarded
// from now on.
func (p *Participant) Stop() {
	p.mu.Lock()
	p.running = false
	p.killed = true
	started := p.started
	p.mu.Unlock()

	p.cancel()
	if !started {
		p.closeDone()
	}
}

// Done is closed once the round loop has exited, or on Stop if it never started.
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

func (p *Participant) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// HandleMessage is the inbound path. It always accepts; faulty and stopped participants
// discard the message.
func (p *Participant) HandleMessage(msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.identity.Faulty || p.killed {
		p.recorder.MessageDiscarded()
		return
	}
	p.ledger.Append(msg)
	p.recorder.MessageReceived()
}

// State returns a snapshot of the consensus state.
func (p *Participant) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.identity.Faulty {
		return State{Killed: p.killed, X: Unset}
	}
	decided := p.decided
	k := p.k
	return State{
		Killed:  p.killed,
		X:       p.x,
		Decided: &decided,
		K:       &k,
	}
}

// Status is permanently StatusFaulty for faulty participants.
func (p *Participant) Status() Status {
	if p.identity.Faulty {
		return StatusFaulty
	}
	return StatusLive
}

// run is the round loop.
func (p *Participant) run() {
	defer p.closeDone()

	if p.identity.N == 1 {
		p.mu.Lock()
		if p.killed {
			p.mu.Unlock()
			return
		}
		p.decided = true
		x := p.x
		p.mu.Unlock()

		p.recorder.Decided(x)
		p.logger.Infow("Single participant, deciding immediately", "value", x)
		return
	}

	for {
		p.mu.RLock()
		if !p.running || p.decided {
			p.mu.RUnlock()
			return
		}
		round, x := p.k, p.x
		p.mu.RUnlock()

		if !p.runRound(round, x) {
			return
		}
	}
}

// runRound executes both phases of round r and applies the decision rule. It returns
// false when the loop must exit.
func (p *Participant) runRound(r int, x Value) bool {
	start := time.Now()

	if !p.runPhase(r, PhasePropose, x) {
		return false
	}
	ones := p.ledger.CountByValue(r, PhasePropose, One)
	zeros := p.ledger.CountByValue(r, PhasePropose, Zero)
	proposal := p.quorum.Propose(ones, zeros)

	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return false
	}
	p.x = proposal
	p.mu.Unlock()

	if !p.runPhase(r, PhaseConfirm, proposal) {
		return false
	}
	ones = p.ledger.CountByValue(r, PhaseConfirm, One)
	zeros = p.ledger.CountByValue(r, PhaseConfirm, Zero)
	outcome := p.quorum.Decide(ones, zeros, p.coin)

	p.logger.Debugw("Phase 2 tally",
		"round", r,
		"ones", ones,
		"zeros", zeros,
		"n", p.quorum.N,
		"f", p.quorum.F,
		"minMessages", p.quorum.MinMessages,
		"majorityThreshold", p.quorum.MajorityThreshold,
		"proposal", proposal,
		"next", outcome.Value,
		"decided", outcome.Decided,
	)

	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return false
	}
	p.x = outcome.Value
	if outcome.Decided {
		p.decided = true
	}
	p.k = r + 1
	p.mu.Unlock()

	p.recorder.RoundCompleted(time.Since(start))
	if outcome.Coin {
		p.recorder.CoinFlipped()
	}
	if outcome.Decided {
		p.recorder.Decided(outcome.Value)
		p.logger.Infow("Decided", "value", outcome.Value, "round", r)
		return false
	}
	return true
}

// runPhase records and broadcasts value for (r, phase), paces, then waits for the quorum.
// A quorum timeout is not an error: the phase proceeds with whatever has arrived.
func (p *Participant) runPhase(r int, phase Phase, value Value) bool {
	p.broadcaster.Broadcast(p.ctx, r, phase, value)

	if !sleepContext(p.ctx, p.timing.PacingDelay) {
		return false
	}

	reached := p.gate.Await(p.ctx, r, phase, p.quorum.MinMessages, p.timing.PollInterval, p.timing.QuorumTimeout)
	if p.ctx.Err() != nil {
		return false
	}
	if !reached {
		p.recorder.QuorumTimeout(phase)
		p.logger.Debugw("Quorum wait timed out",
			"round", r,
			"phase", phase,
			"have", p.ledger.Size(r, phase),
			"want", p.quorum.MinMessages,
		)
	}
	return true
}

// sleepContext pauses for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
