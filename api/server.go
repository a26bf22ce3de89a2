package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/data"
	"github.com/VanDung-dev/BenOr-Engine/logging"
	"github.com/VanDung-dev/BenOr-Engine/network"
)

// ArrowStreamContentType is the media type of GET /ledger responses.
const ArrowStreamContentType = "application/vnd.apache.arrow.stream"

// Controller is the participant surface driven by the control API.
type Controller interface {
	Start()
	Stop()
	State() consensus.State
	Status() consensus.Status
	Identity() consensus.Identity
	Ledger() *consensus.Ledger
	HandleMessage(msg consensus.Message)
}

// ControlConfig holds configuration for the control server.
type ControlConfig struct {
	// Address to listen on (e.g., ":3000")
	Address string

	// Inbound serves POST /message. Defaults to a receiver feeding Controller.HandleMessage.
	Inbound http.Handler

	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Auth guards /start and /stop. nil disables authentication.
	Auth *Authenticator
}

// ControlServer exposes one participant over HTTP.
type ControlServer struct {
	controller Controller
	config     ControlConfig
	router     *mux.Router
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewControlServer creates a control server for controller.
func NewControlServer(controller Controller, config ControlConfig) *ControlServer {
	s := &ControlServer{
		controller: controller,
		config:     config,
		logger:     logging.MustGetLogger("api").With("participant", controller.Identity().ID),
	}
	if s.config.Gatherer == nil {
		s.config.Gatherer = prometheus.DefaultGatherer
	}
	if s.config.Inbound == nil {
		s.config.Inbound = network.NewReceiver(controller.Identity().N, controller.HandleMessage, s.logger)
	}
	s.router = s.routes()
	return s
}

func (s *ControlServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	lifecycle := r.NewRoute().Subrouter()
	if s.config.Auth != nil {
		lifecycle.Use(s.config.Auth.Middleware)
	}
	lifecycle.HandleFunc("/start", s.handleStart).Methods(http.MethodGet)
	lifecycle.HandleFunc("/stop", s.handleStop).Methods(http.MethodGet)

	r.Handle("/message", s.config.Inbound).Methods(http.MethodPost)
	r.HandleFunc("/getState", s.handleGetState).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	return r
}

// Handler returns the route table, for embedding or httptest.
func (s *ControlServer) Handler() http.Handler {
	return s.router
}

// StartAsync listens on the configured address and serves in a goroutine.
func (s *ControlServer) StartAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("control server is already running")
	}

	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := s.server
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Control server failed", "error", err)
		}
	}()

	s.logger.Infow("Control server started", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before StartAsync.
func (s *ControlServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Stop gracefully shuts the server down.
func (s *ControlServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *ControlServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.controller.Start()
	writeText(w, http.StatusOK, "consensus started")
}

func (s *ControlServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	writeText(w, http.StatusOK, "participant stopped")
}

func (s *ControlServer) handleGetState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.controller.State()); err != nil {
		s.logger.Debugw("Failed to encode state", "error", err)
	}
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.controller.Status()
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusInternalServerError
	}
	writeText(w, code, string(status))
}

func (s *ControlServer) handleLedger(w http.ResponseWriter, _ *http.Request) {
	payload, err := data.ExportLedger(s.controller.Identity().ID, s.controller.Ledger().Snapshot())
	if err != nil {
		s.logger.Errorw("Ledger export failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ArrowStreamContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *ControlServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("Request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
