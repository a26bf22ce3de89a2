package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	peer int
	msg  Message
}

// recordingTransport remembers every send and fails for the peers in fail.
type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[int]bool
}

func (t *recordingTransport) Send(_ context.Context, peer int, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{peer: peer, msg: msg})
	if t.fail[peer] {
		return errors.New("peer unreachable")
	}
	return nil
}

func (t *recordingTransport) messages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

type countingRecorder struct {
	rounds    atomic.Int64
	decided   atomic.Int64
	timeouts  atomic.Int64
	coins     atomic.Int64
	failures  atomic.Int64
	received  atomic.Int64
	discarded atomic.Int64
}

func (r *countingRecorder) RoundCompleted(time.Duration) { r.rounds.Add(1) }
func (r *countingRecorder) Decided(Value)                { r.decided.Add(1) }
func (r *countingRecorder) QuorumTimeout(Phase)          { r.timeouts.Add(1) }
func (r *countingRecorder) CoinFlipped()                 { r.coins.Add(1) }
func (r *countingRecorder) BroadcastFailed()             { r.failures.Add(1) }
func (r *countingRecorder) MessageReceived()             { r.received.Add(1) }
func (r *countingRecorder) MessageDiscarded()            { r.discarded.Add(1) }

func fastTiming() Timing {
	return Timing{
		PollInterval:  2 * time.Millisecond,
		QuorumTimeout: 20 * time.Millisecond,
		PacingDelay:   time.Millisecond,
	}
}

func newTestParticipant(t *testing.T, identity Identity, initial Value, transport Transport, opts ...Option) *Participant {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop().Sugar()), WithTiming(fastTiming())}, opts...)
	p, err := NewParticipant(identity, initial, transport, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func waitDone(t *testing.T, p *Participant) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("participant did not finish")
	}
}

func TestNewParticipantValidation(t *testing.T) {
	transport := &recordingTransport{}

	_, err := NewParticipant(Identity{ID: 3, N: 3}, One, transport)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = NewParticipant(Identity{ID: 0, N: 0}, One, transport)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = NewParticipant(Identity{ID: 0, N: 3, F: -1}, One, transport)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = NewParticipant(Identity{ID: 0, N: 3}, Ambiguous, transport)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = NewParticipant(Identity{ID: 0, N: 3}, One, nil)
	assert.Error(t, err)

	// faulty participants carry no initial value
	_, err = NewParticipant(Identity{ID: 0, N: 3, Faulty: true}, Unset, transport)
	assert.NoError(t, err)
}

func TestSingleParticipantDecidesImmediately(t *testing.T) {
	for _, initial := range []Value{Zero, One} {
		transport := &recordingTransport{}
		recorder := &countingRecorder{}
		p := newTestParticipant(t, Identity{ID: 0, N: 1}, initial, transport, WithRecorder(recorder))

		p.Start()
		waitDone(t, p)

		state := p.State()
		require.NotNil(t, state.Decided)
		require.NotNil(t, state.K)
		assert.True(t, *state.Decided)
		assert.Equal(t, initial, state.X)
		assert.Equal(t, 0, *state.K)
		assert.False(t, state.Killed)
		assert.Empty(t, transport.messages())
		assert.Equal(t, 0, p.Ledger().Len())
		assert.EqualValues(t, 1, recorder.decided.Load())
		assert.EqualValues(t, 0, recorder.rounds.Load())
	}
}

func TestFaultyParticipant(t *testing.T) {
	transport := &recordingTransport{}
	recorder := &countingRecorder{}
	p := newTestParticipant(t, Identity{ID: 1, N: 3, F: 1, Faulty: true}, Unset, transport, WithRecorder(recorder))

	check := func() {
		state := p.State()
		assert.Equal(t, Unset, state.X)
		assert.Nil(t, state.Decided)
		assert.Nil(t, state.K)
		assert.Equal(t, StatusFaulty, p.Status())
		assert.False(t, p.Status().Healthy())
	}

	check()
	data, err := json.Marshal(p.State())
	require.NoError(t, err)
	assert.JSONEq(t, `{"killed":false,"x":null,"decided":null,"k":null}`, string(data))

	p.Start()
	p.HandleMessage(Message{SenderID: 0, Round: 0, Phase: PhasePropose, Value: One})
	time.Sleep(30 * time.Millisecond)

	check()
	assert.Equal(t, 0, p.Ledger().Len())
	assert.Empty(t, transport.messages())
	assert.EqualValues(t, 1, recorder.discarded.Load())

	p.Stop()
	check()
	assert.True(t, p.State().Killed)
}

func TestLiveStatus(t *testing.T) {
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 1}, Zero, &recordingTransport{})
	assert.Equal(t, StatusLive, p.Status())
	assert.True(t, p.Status().Healthy())

	p.Stop()
	assert.Equal(t, StatusLive, p.Status())
}

func TestStartIsIdempotent(t *testing.T) {
	transport := &recordingTransport{}
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 0}, One, transport)

	p.Start()
	p.Start()

	require.Eventually(t, func() bool {
		k := p.State().K
		return k != nil && *k >= 2
	}, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Start()
	waitDone(t, p)

	type key struct {
		round int
		phase Phase
		peer  int
	}
	sends := make(map[key]int)
	for _, s := range transport.messages() {
		assert.NotEqual(t, 0, s.peer, "never sends to itself")
		sends[key{round: s.msg.Round, phase: s.msg.Phase, peer: s.peer}]++
	}
	require.NotEmpty(t, sends)
	for k, count := range sends {
		assert.Equal(t, 1, count, "round %d phase %d peer %d", k.round, k.phase, k.peer)
	}

	// own vote recorded exactly once per round/phase
	assert.Equal(t, 1, p.Ledger().Size(0, PhasePropose))
	assert.Equal(t, 1, p.Ledger().Size(0, PhaseConfirm))
}

func TestStopIsIrreversible(t *testing.T) {
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 1}, Zero, &recordingTransport{})

	p.Start()
	require.Eventually(t, func() bool {
		return p.Ledger().Size(0, PhasePropose) == 1
	}, 5*time.Second, time.Millisecond)

	p.Stop()
	waitDone(t, p)

	before := p.Ledger().Len()
	p.HandleMessage(Message{SenderID: 1, Round: 0, Phase: PhasePropose, Value: Zero})
	p.HandleMessage(Message{SenderID: 2, Round: 9, Phase: PhaseConfirm, Value: One})
	assert.Equal(t, before, p.Ledger().Len())

	stateBefore := p.State()
	p.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stateBefore, p.State())
	assert.True(t, p.State().Killed)

	// a second stop is harmless
	p.Stop()
	assert.True(t, p.State().Killed)
}

func TestStopBeforeStart(t *testing.T) {
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 1}, Zero, &recordingTransport{})
	p.Stop()
	waitDone(t, p)

	p.Start()
	assert.Equal(t, 0, p.Ledger().Len())
	assert.True(t, p.State().Killed)
}

func TestStopDuringPhaseTwoWait(t *testing.T) {
	transport := &recordingTransport{}
	timing := Timing{
		PollInterval:  5 * time.Millisecond,
		QuorumTimeout: time.Minute,
		PacingDelay:   time.Millisecond,
	}
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 0}, One, transport, WithTiming(timing))

	// the rest of the group voted in phase 1 but will never confirm
	p.HandleMessage(Message{SenderID: 1, Round: 0, Phase: PhasePropose, Value: One})
	p.HandleMessage(Message{SenderID: 2, Round: 0, Phase: PhasePropose, Value: One})

	p.Start()
	require.Eventually(t, func() bool {
		return p.Ledger().Size(0, PhaseConfirm) == 1
	}, 5*time.Second, time.Millisecond)

	p.Stop()
	waitDone(t, p)

	state := p.State()
	require.NotNil(t, state.Decided)
	require.NotNil(t, state.K)
	assert.False(t, *state.Decided)
	assert.True(t, state.Killed)
	assert.Equal(t, 0, *state.K)
	assert.Equal(t, One, state.X)
}

func TestDecisionIsStable(t *testing.T) {
	transport := &recordingTransport{}
	recorder := &countingRecorder{}
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 1}, One, transport, WithRecorder(recorder))

	for _, phase := range []Phase{PhasePropose, PhaseConfirm} {
		p.HandleMessage(Message{SenderID: 1, Round: 0, Phase: phase, Value: One})
		p.HandleMessage(Message{SenderID: 2, Round: 0, Phase: phase, Value: One})
	}

	p.Start()
	waitDone(t, p)

	state := p.State()
	require.NotNil(t, state.Decided)
	assert.True(t, *state.Decided)
	assert.Equal(t, One, state.X)
	assert.Equal(t, 1, *state.K)

	sent := len(transport.messages())
	for round := 1; round < 3; round++ {
		for _, phase := range []Phase{PhasePropose, PhaseConfirm} {
			p.HandleMessage(Message{SenderID: 1, Round: round, Phase: phase, Value: Zero})
			p.HandleMessage(Message{SenderID: 2, Round: round, Phase: phase, Value: Zero})
		}
	}
	p.Start()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, state, p.State())
	assert.Equal(t, sent, len(transport.messages()))
	assert.EqualValues(t, 1, recorder.decided.Load())
	assert.EqualValues(t, 1, recorder.rounds.Load())
}

func TestBroadcastFailuresAreSwallowed(t *testing.T) {
	transport := &recordingTransport{fail: map[int]bool{1: true}}
	recorder := &countingRecorder{}
	p := newTestParticipant(t, Identity{ID: 0, N: 3, F: 1}, Zero, transport, WithRecorder(recorder))

	p.Start()
	require.Eventually(t, func() bool {
		k := p.State().K
		return k != nil && *k >= 1
	}, 5*time.Second, time.Millisecond)
	p.Stop()
	waitDone(t, p)

	peers := map[int]int{}
	for _, s := range transport.messages() {
		if s.msg.Round == 0 {
			peers[s.peer]++
		}
	}
	assert.Equal(t, 2, peers[1])
	assert.Equal(t, 2, peers[2])
	assert.GreaterOrEqual(t, recorder.failures.Load(), int64(2))
	assert.GreaterOrEqual(t, recorder.timeouts.Load(), int64(2))
}

func TestQuorumTimeoutProceedsWithPartialTally(t *testing.T) {
	// N=2, F=1: the silent peer never answers, so the coin decides the next value
	coin := &fixedCoin{value: One}
	transport := &recordingTransport{}
	recorder := &countingRecorder{}
	p := newTestParticipant(t, Identity{ID: 0, N: 2, F: 1}, Zero, transport,
		WithCoin(coin), WithRecorder(recorder))

	// phase-1 strict majority of 2 needs both votes, so own zero alone yields "?"
	p.Start()
	require.Eventually(t, func() bool {
		k := p.State().K
		return k != nil && *k >= 1
	}, 5*time.Second, time.Millisecond)
	p.Stop()
	waitDone(t, p)

	var confirm *Message
	for _, s := range transport.messages() {
		if s.msg.Round == 0 && s.msg.Phase == PhaseConfirm {
			m := s.msg
			confirm = &m
		}
	}
	require.NotNil(t, confirm)
	assert.Equal(t, Ambiguous, confirm.Value)
	assert.GreaterOrEqual(t, recorder.coins.Load(), int64(1))
	assert.False(t, *p.State().Decided)
}
