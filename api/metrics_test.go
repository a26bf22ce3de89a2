package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

func TestMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("benor", reg)

	m.RoundCompleted(20 * time.Millisecond)
	m.RoundCompleted(30 * time.Millisecond)
	m.Decided(consensus.One)
	m.QuorumTimeout(consensus.PhasePropose)
	m.QuorumTimeout(consensus.PhaseConfirm)
	m.QuorumTimeout(consensus.PhaseConfirm)
	m.CoinFlipped()
	m.BroadcastFailed()
	m.MessageReceived()
	m.MessageReceived()
	m.MessageDiscarded()
	m.RecordGRPCRequest("/benor.Peer/Deliver", "OK", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoundsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuorumTimeouts.WithLabelValues("propose")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuorumTimeouts.WithLabelValues("confirm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoinFlips))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDiscarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("/benor.Peer/Deliver", "OK")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RoundDuration))

	var rounds dto.Metric
	require.NoError(t, m.RoundDuration.Write(&rounds))
	assert.EqualValues(t, 2, rounds.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.05, rounds.GetHistogram().GetSampleSum(), 1e-9)
}

func TestMetricsRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("benor", reg)
	assert.Panics(t, func() { NewMetrics("benor", reg) })

	// distinct label sets may share one registry
	other := prometheus.NewRegistry()
	NewMetrics("benor", prometheus.WrapRegistererWith(prometheus.Labels{"participant": "0"}, other))
	NewMetrics("benor", prometheus.WrapRegistererWith(prometheus.Labels{"participant": "1"}, other))
}

func TestMetricsServerHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("benor", reg)
	m.CoinFlipped()

	srv := NewMetricsServer("127.0.0.1:0", reg)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "benor_coin_flips_total 1"))

	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
