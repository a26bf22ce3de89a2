package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
)

// HTTPTransport POSTs each message as JSON to http://<peer>/message. The inbound side is
// the Receiver mounted on the participant's control server.
type HTTPTransport struct {
	peers  PeerTable
	client *http.Client
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	handler Handler
	running bool

	sent   atomic.Int64
	failed atomic.Int64
}

// NewHTTPTransport creates an HTTP transport. sendTimeout bounds each POST.
func NewHTTPTransport(peers PeerTable, sendTimeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		peers:  peers,
		client: &http.Client{Timeout: sendTimeout},
		logger: logging.MustGetLogger("network.http"),
	}
}

// SetHandler sets the callback used by Receiver.
func (t *HTTPTransport) SetHandler(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start enables sending.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	return nil
}

// Stop disables sending and drops idle connections.
func (t *HTTPTransport) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.client.CloseIdleConnections()
}

// Send delivers msg to peer.
func (t *HTTPTransport) Send(ctx context.Context, peer int, msg consensus.Message) error {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if !running {
		return ErrNodeNotRunning
	}

	address, err := t.peers.Address(peer)
	if err != nil {
		return err
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL(address), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.failed.Add(1)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.failed.Add(1)
		return fmt.Errorf("%w: peer %d returned %s", ErrSendFailed, peer, resp.Status)
	}
	t.sent.Add(1)
	return nil
}

// Receiver returns the inbound /message handler for a group of n participants.
func (t *HTTPTransport) Receiver(n int) http.Handler {
	return NewReceiver(n, func(msg consensus.Message) {
		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}, t.logger)
}

// Stats returns delivery counters.
func (t *HTTPTransport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Kind:      "http",
		IsRunning: t.running,
		PeerCount: t.peers.Size(),
		Sent:      t.sent.Load(),
		Failed:    t.failed.Load(),
	}
}

func messageURL(address string) string {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return strings.TrimSuffix(address, "/") + "/message"
}

// NewReceiver decodes POSTed messages and passes them to handler. Malformed bodies get 400.
func NewReceiver(n int, handler Handler, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageSize+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		msg, err := DecodeMessage(body, n)
		if err != nil {
			logger.Debugw("Rejected inbound message", "remote", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler(msg)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("message received"))
	})
}
