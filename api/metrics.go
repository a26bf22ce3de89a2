// Package api provides the participant control surface and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// Metrics holds all Prometheus metrics for a participant.
type Metrics struct {
	// Round metrics
	RoundsTotal   prometheus.Counter
	RoundDuration prometheus.Histogram
	CoinFlips     prometheus.Counter

	// Outcome metrics
	DecisionsTotal *prometheus.CounterVec
	QuorumTimeouts *prometheus.CounterVec

	// Message metrics
	BroadcastFailures prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesDiscarded prometheus.Counter

	// gRPC metrics
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics with the given namespace and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of completed rounds",
		}),
		RoundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Round duration in seconds, both phases included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		CoinFlips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coin_flips_total",
			Help:      "Total number of rounds resolved by the local coin",
		}),

		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of decisions by value",
		}, []string{"value"}),
		QuorumTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorum_timeouts_total",
			Help:      "Total number of quorum waits that timed out, by phase",
		}, []string{"phase"}),

		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Total number of failed per-peer deliveries",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of inbound messages recorded in the ledger",
		}),
		MessagesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Total number of inbound messages discarded by stopped or faulty participants",
		}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests by method and status",
		}, []string{"method", "status"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RoundCompleted implements consensus.Recorder.
func (m *Metrics) RoundCompleted(duration time.Duration) {
	m.RoundsTotal.Inc()
	m.RoundDuration.Observe(duration.Seconds())
}

// Decided implements consensus.Recorder.
func (m *Metrics) Decided(value consensus.Value) {
	m.DecisionsTotal.WithLabelValues(value.String()).Inc()
}

// QuorumTimeout implements consensus.Recorder.
func (m *Metrics) QuorumTimeout(phase consensus.Phase) {
	label := "propose"
	if phase == consensus.PhaseConfirm {
		label = "confirm"
	}
	m.QuorumTimeouts.WithLabelValues(label).Inc()
}

// CoinFlipped implements consensus.Recorder.
func (m *Metrics) CoinFlipped() {
	m.CoinFlips.Inc()
}

// BroadcastFailed implements consensus.Recorder.
func (m *Metrics) BroadcastFailed() {
	m.BroadcastFailures.Inc()
}

// MessageReceived implements consensus.Recorder.
func (m *Metrics) MessageReceived() {
	m.MessagesReceived.Inc()
}

// MessageDiscarded implements consensus.Recorder.
func (m *Metrics) MessageDiscarded() {
	m.MessagesDiscarded.Inc()
}

// RecordGRPCRequest records a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

var _ consensus.Recorder = (*Metrics)(nil)

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr serving gatherer.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
