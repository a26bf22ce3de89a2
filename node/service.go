// Package node hosts one participant: its transport, control API and metrics.
package node

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/api"
	"github.com/VanDung-dev/BenOr-Engine/config"
	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
	"github.com/VanDung-dev/BenOr-Engine/network"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "benor"

// Status represents the current status of the host service.
type Status struct {
	NodeID         int              `json:"node_id"`
	Transport      network.Stats    `json:"transport"`
	ControlAddress string           `json:"control_address"`
	IsRunning      bool             `json:"is_running"`
	State          consensus.State  `json:"state"`
	Health         string           `json:"health"`
	Quorum         consensus.Quorum `json:"quorum"`
}

type options struct {
	registry *prometheus.Registry
	coin     consensus.Coin
	logger   *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*options)

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithCoin replaces the participant's crypto-seeded coin.
func WithCoin(coin consensus.Coin) Option {
	return func(o *options) {
		o.coin = coin
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Service wires a participant to its transport, control server and metrics.
type Service struct {
	config      *config.Config
	participant *consensus.Participant
	transport   network.Transport
	control     *api.ControlServer
	metrics     *api.Metrics
	registry    *prometheus.Registry
	logger      *zap.SugaredLogger

	mu      sync.RWMutex
	running bool
	stopped bool
}

// New builds the service described by cfg. Nothing listens until Start.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	identity := cfg.Identity()
	if o.logger == nil {
		o.logger = logging.MustGetLogger("node").With("participant", identity.ID)
	}

	s := &Service{
		config:   cfg,
		registry: o.registry,
		logger:   o.logger,
	}
	s.metrics = api.NewMetrics(MetricsNamespace, prometheus.WrapRegistererWith(
		prometheus.Labels{"participant": strconv.Itoa(identity.ID)}, o.registry))

	var inbound http.Handler
	switch cfg.Transport.Kind {
	case config.TransportHTTP:
		t := network.NewHTTPTransport(cfg.PeerTable(), cfg.Transport.SendTimeout)
		inbound = t.Receiver(identity.N)
		s.transport = t
	case config.TransportZMQ:
		t, err := network.NewZmqTransport(identity.ID, cfg.Transport.Listen, cfg.PeerTable(), cfg.Transport.QueueSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZeroMQ transport: %w", err)
		}
		s.transport = t
	case config.TransportGRPC:
		t, err := network.NewGRPCTransport(identity.ID, cfg.Transport.Listen, cfg.PeerTable(),
			cfg.Transport.SendTimeout, s.metrics.RecordGRPCRequest)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC transport: %w", err)
		}
		s.transport = t
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	participantOpts := []consensus.Option{
		consensus.WithTiming(cfg.ConsensusTiming()),
		consensus.WithRecorder(s.metrics),
		consensus.WithLogger(o.logger.Named("consensus")),
	}
	if o.coin != nil {
		participantOpts = append(participantOpts, consensus.WithCoin(o.coin))
	}
	participant, err := consensus.NewParticipant(identity, cfg.InitialValue(), s.transport, participantOpts...)
	if err != nil {
		return nil, err
	}
	s.participant = participant
	s.transport.SetHandler(participant.HandleMessage)

	s.control = api.NewControlServer(participant, api.ControlConfig{
		Address:  cfg.Control.Listen,
		Inbound:  inbound,
		Gatherer: o.registry,
		Auth:     api.NewTokenAuthenticator(cfg.Control.AuthToken),
	})
	return s, nil
}

// Start brings up the transport and the control server. It is idempotent.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.stopped {
		return network.ErrNodeNotRunning
	}

	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	if err := s.control.StartAsync(); err != nil {
		s.transport.Stop()
		return fmt.Errorf("failed to start control server: %w", err)
	}

	s.running = true
	s.logger.Infow("Participant host started",
		"transport", s.config.Transport.Kind,
		"control", s.control.Addr(),
		"n", s.config.Node.N,
		"f", s.config.Node.F,
		"faulty", s.config.Node.Faulty,
	)
	return nil
}

// Stop shuts down in reverse order and permanently stops the participant.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.participant.Stop()
	if !s.running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.control.Stop(ctx); err != nil {
		s.logger.Warnw("Control server shutdown failed", "error", err)
	}
	s.transport.Stop()

	s.running = false
	s.logger.Infow("Participant host stopped")
}

// StartConsensus launches the participant's round loop, as GET /start does.
func (s *Service) StartConsensus() {
	s.participant.Start()
}

// Participant returns the hosted participant.
func (s *Service) Participant() *consensus.Participant {
	return s.participant
}

// Registry returns the registry holding the participant's metrics.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// ControlAddress returns the control server address, bound once started.
func (s *Service) ControlAddress() string {
	return s.control.Addr()
}

// IsRunning returns whether the service is currently running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns the current status of the service.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		NodeID:         s.config.Node.ID,
		Transport:      s.transport.Stats(),
		ControlAddress: s.control.Addr(),
		IsRunning:      s.running,
		State:          s.participant.State(),
		Health:         string(s.participant.Status()),
		Quorum:         s.participant.Quorum(),
	}
}
