// Package cluster runs a whole group of participants in one process over a Loopback hub.
package cluster

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
	"github.com/VanDung-dev/BenOr-Engine/network"
)

// ErrInvalidSpec is returned by New for an inconsistent group description.
var ErrInvalidSpec = errors.New("invalid cluster spec")

// Spec describes a group. InitialValues has one entry per participant; entries for faulty
// participants are ignored.
type Spec struct {
	N             int
	F             int
	InitialValues []consensus.Value
	Faulty        []int
	Timing        consensus.Timing
}

type options struct {
	logger   *zap.SugaredLogger
	recorder func(id int) consensus.Recorder
	coin     func(id int) consensus.Coin
	drop     network.DropFunc
}

// Option configures a Cluster.
type Option func(*options)

// WithLogger sets the parent logger of every participant.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorders gives each participant the recorder returned by factory.
func WithRecorders(factory func(id int) consensus.Recorder) Option {
	return func(o *options) {
		o.recorder = factory
	}
}

// WithCoins gives each participant the coin returned by factory.
func WithCoins(factory func(id int) consensus.Coin) Option {
	return func(o *options) {
		o.coin = factory
	}
}

// WithDrop installs a message loss rule on the hub.
func WithDrop(drop network.DropFunc) Option {
	return func(o *options) {
		o.drop = drop
	}
}

// Cluster supervises N participants connected through a Loopback.
type Cluster struct {
	spec         Spec
	hub          *network.Loopback
	participants []*consensus.Participant
	logger       *zap.SugaredLogger
}

// New creates the participants and attaches them to the hub. Nothing runs until StartAll.
func New(spec Spec, opts ...Option) (*Cluster, error) {
	if spec.N < 1 {
		return nil, fmt.Errorf("%w: N=%d", ErrInvalidSpec, spec.N)
	}
	if len(spec.InitialValues) != spec.N {
		return nil, fmt.Errorf("%w: %d initial values for N=%d", ErrInvalidSpec, len(spec.InitialValues), spec.N)
	}
	faulty := make(map[int]bool, len(spec.Faulty))
	for _, id := range spec.Faulty {
		if id < 0 || id >= spec.N {
			return nil, fmt.Errorf("%w: faulty participant %d outside [0,%d)", ErrInvalidSpec, id, spec.N)
		}
		faulty[id] = true
	}
	if spec.Timing == (consensus.Timing{}) {
		spec.Timing = consensus.DefaultTiming()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.MustGetLogger("cluster")
	}

	c := &Cluster{
		spec:         spec,
		hub:          network.NewLoopback(spec.N),
		participants: make([]*consensus.Participant, spec.N),
		logger:       o.logger,
	}
	c.hub.SetDrop(o.drop)

	for id := 0; id < spec.N; id++ {
		identity := consensus.Identity{ID: id, N: spec.N, F: spec.F, Faulty: faulty[id]}
		initial := spec.InitialValues[id]
		if identity.Faulty {
			initial = consensus.Unset
		}

		participantOpts := []consensus.Option{
			consensus.WithTiming(spec.Timing),
			consensus.WithLogger(o.logger.With("participant", id)),
		}
		if o.recorder != nil {
			participantOpts = append(participantOpts, consensus.WithRecorder(o.recorder(id)))
		}
		if o.coin != nil {
			participantOpts = append(participantOpts, consensus.WithCoin(o.coin(id)))
		}

		endpoint := c.hub.Endpoint(id)
		p, err := consensus.NewParticipant(identity, initial, endpoint, participantOpts...)
		if err != nil {
			return nil, fmt.Errorf("participant %d: %w", id, err)
		}
		endpoint.SetHandler(p.HandleMessage)
		if err := endpoint.Start(); err != nil {
			return nil, fmt.Errorf("participant %d: %w", id, err)
		}
		c.participants[id] = p
	}
	return c, nil
}

// Ready reports whether every endpoint is attached and answering.
func (c *Cluster) Ready() bool {
	for id := range c.participants {
		if !c.hub.Endpoint(id).Stats().IsRunning {
			return false
		}
	}
	return true
}

// StartAll starts every participant. Faulty ones stay idle.
func (c *Cluster) StartAll() {
	for _, p := range c.participants {
		p.Start()
	}
	c.logger.Infow("Cluster started", "n", c.spec.N, "f", c.spec.F, "faulty", c.spec.Faulty)
}

// StopAll permanently stops every participant.
func (c *Cluster) StopAll() {
	for _, p := range c.participants {
		p.Stop()
	}
	for id := range c.participants {
		c.hub.Endpoint(id).Stop()
	}
}

// WaitDecided blocks until every live participant's round loop has exited, by deciding or
// being stopped, or ctx ends.
func (c *Cluster) WaitDecided(ctx context.Context) error {
	for _, p := range c.participants {
		if p.Status() == consensus.StatusFaulty {
			continue
		}
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Decision returns the common decided value when every live participant has decided.
// ok is false while some live participant is undecided.
func (c *Cluster) Decision() (value consensus.Value, ok bool, err error) {
	value = consensus.Unset
	for _, p := range c.participants {
		if p.Status() == consensus.StatusFaulty {
			continue
		}
		state := p.State()
		if state.Decided == nil || !*state.Decided {
			return consensus.Unset, false, nil
		}
		if value != consensus.Unset && value != state.X {
			return consensus.Unset, false, fmt.Errorf("agreement violated: %s and %s decided", value, state.X)
		}
		value = state.X
	}
	return value, value != consensus.Unset, nil
}

// States returns each participant's state, indexed by id.
func (c *Cluster) States() []consensus.State {
	states := make([]consensus.State, len(c.participants))
	for id, p := range c.participants {
		states[id] = p.State()
	}
	return states
}

// Ledgers returns each participant's ledger snapshot, indexed by id.
func (c *Cluster) Ledgers() [][]consensus.Message {
	ledgers := make([][]consensus.Message, len(c.participants))
	for id, p := range c.participants {
		ledgers[id] = p.Ledger().Snapshot()
	}
	return ledgers
}

// Participant returns participant id.
func (c *Cluster) Participant(id int) *consensus.Participant {
	return c.participants[id]
}

// Size returns N.
func (c *Cluster) Size() int {
	return c.spec.N
}
