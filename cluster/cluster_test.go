package cluster

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

var testTiming = consensus.Timing{
	PollInterval:  10 * time.Millisecond,
	QuorumTimeout: 500 * time.Millisecond,
	PacingDelay:   20 * time.Millisecond,
}

func values(vs ...int) []consensus.Value {
	out := make([]consensus.Value, len(vs))
	for i, v := range vs {
		out[i] = consensus.Value(v)
	}
	return out
}

func run(t *testing.T, spec Spec, opts ...Option) *Cluster {
	t.Helper()
	if spec.Timing == (consensus.Timing{}) {
		spec.Timing = testTiming
	}
	opts = append([]Option{WithLogger(zap.NewNop().Sugar())}, opts...)
	c, err := New(spec, opts...)
	require.NoError(t, err)
	t.Cleanup(c.StopAll)

	require.True(t, c.Ready())
	c.StartAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitDecided(ctx))
	return c
}

func requireDecision(t *testing.T, c *Cluster, want consensus.Value) {
	t.Helper()
	got, ok, err := c.Decision()
	require.NoError(t, err)
	require.True(t, ok, "states: %+v", c.States())
	assert.Equal(t, want, got)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Spec{N: 0})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(Spec{N: 3, InitialValues: values(0, 1)})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(Spec{N: 3, InitialValues: values(0, 1, 0), Faulty: []int{3}})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(Spec{N: 2, InitialValues: values(0, 2)})
	assert.ErrorIs(t, err, consensus.ErrInvalidValue)
}

func TestSingleMinorityOneStillDecidesZero(t *testing.T) {
	c := run(t, Spec{N: 4, F: 1, InitialValues: values(0, 0, 1, 0)})
	requireDecision(t, c, consensus.Zero)

	for id, state := range c.States() {
		assert.False(t, state.Killed, "participant %d", id)
		assert.GreaterOrEqual(t, *state.K, 1, "participant %d", id)
	}
}

func TestFaultyParticipantIsTolerated(t *testing.T) {
	c := run(t, Spec{N: 3, F: 1, InitialValues: values(0, 1, 0), Faulty: []int{2}})
	requireDecision(t, c, consensus.Zero)

	faulty := c.States()[2]
	assert.Equal(t, consensus.Unset, faulty.X)
	assert.Nil(t, faulty.Decided)
	assert.Nil(t, faulty.K)
	assert.Equal(t, consensus.StatusFaulty, c.Participant(2).Status())
	assert.Empty(t, c.Ledgers()[2])
}

func TestUnanimousInputIsDecided(t *testing.T) {
	for _, v := range []int{0, 1} {
		c := run(t, Spec{N: 5, F: 2, InitialValues: values(v, v, v, v, v)})
		requireDecision(t, c, consensus.Value(v))
		for _, state := range c.States() {
			assert.Equal(t, 1, *state.K, "decided in the first round")
		}
	}
}

func TestMajorityInputIsDecided(t *testing.T) {
	c := run(t, Spec{N: 5, F: 1, InitialValues: values(1, 1, 1, 0, 1)})
	requireDecision(t, c, consensus.One)
}

func TestOmissionFromOneSender(t *testing.T) {
	c := run(t, Spec{N: 4, F: 1, InitialValues: values(1, 1, 1, 0)},
		WithDrop(func(from, to int, msg consensus.Message) bool { return from == 3 }))
	requireDecision(t, c, consensus.One)

	for id := 0; id < 3; id++ {
		for _, msg := range c.Ledgers()[id] {
			assert.NotEqual(t, 3, msg.SenderID, "participant %d recorded a dropped vote", id)
		}
	}
}

type countingRecorder struct {
	decided atomic.Int64
	rounds  atomic.Int64
}

func (r *countingRecorder) RoundCompleted(time.Duration)  { r.rounds.Add(1) }
func (r *countingRecorder) Decided(consensus.Value)       { r.decided.Add(1) }
func (r *countingRecorder) QuorumTimeout(consensus.Phase) {}
func (r *countingRecorder) CoinFlipped()                  {}
func (r *countingRecorder) BroadcastFailed()              {}
func (r *countingRecorder) MessageReceived()              {}
func (r *countingRecorder) MessageDiscarded()             {}

func TestRecordersAndLedgers(t *testing.T) {
	recorders := make([]*countingRecorder, 3)
	for i := range recorders {
		recorders[i] = &countingRecorder{}
	}
	c := run(t, Spec{N: 3, F: 1, InitialValues: values(1, 1, 1)},
		WithRecorders(func(id int) consensus.Recorder { return recorders[id] }))
	requireDecision(t, c, consensus.One)

	for id, r := range recorders {
		assert.EqualValues(t, 1, r.decided.Load(), "participant %d", id)
		assert.EqualValues(t, 1, r.rounds.Load(), "participant %d", id)
	}

	for id, ledger := range c.Ledgers() {
		require.NotEmpty(t, ledger, "participant %d", id)
		assert.Equal(t, 0, ledger[0].Round)
		assert.Equal(t, consensus.PhasePropose, ledger[0].Phase)
	}
}

func TestStopAllEndsWaiting(t *testing.T) {
	spec := Spec{
		N:             3,
		F:             0,
		InitialValues: values(0, 1, 0),
		Faulty:        []int{1, 2},
		Timing: consensus.Timing{
			PollInterval:  10 * time.Millisecond,
			QuorumTimeout: time.Minute,
			PacingDelay:   time.Millisecond,
		},
	}
	c, err := New(spec, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	c.StartAll()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitDecided(ctx), context.DeadlineExceeded)

	c.StopAll()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, c.WaitDecided(ctx2))

	state := c.States()[0]
	assert.True(t, state.Killed)
	assert.False(t, *state.Decided)
	assert.Equal(t, 0, *state.K)
	assert.False(t, c.Ready())

	_, ok, err := c.Decision()
	assert.NoError(t, err)
	assert.False(t, ok)
}
