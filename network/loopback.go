package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// DropFunc reports whether a message from one participant to another is lost.
type DropFunc func(from, to int, msg consensus.Message) bool

// Loopback is an in-process hub connecting a fixed group of endpoints. Delivery is
// synchronous: Send returns after the receiver's handler has run.
type Loopback struct {
	mu        sync.RWMutex
	endpoints []*LoopbackEndpoint
	drop      DropFunc
}

// NewLoopback creates a hub for n participants.
func NewLoopback(n int) *Loopback {
	l := &Loopback{endpoints: make([]*LoopbackEndpoint, n)}
	for i := range l.endpoints {
		l.endpoints[i] = &LoopbackEndpoint{hub: l, id: i}
	}
	return l
}

// Endpoint returns the transport for participant id.
func (l *Loopback) Endpoint(id int) *LoopbackEndpoint {
	return l.endpoints[id]
}

// SetDrop installs a loss rule. nil delivers everything.
func (l *Loopback) SetDrop(drop DropFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop = drop
}

func (l *Loopback) deliver(from, to int, msg consensus.Message) error {
	if to < 0 || to >= len(l.endpoints) {
		return fmt.Errorf("%w: %d", ErrPeerNotFound, to)
	}

	l.mu.RLock()
	drop := l.drop
	l.mu.RUnlock()
	if drop != nil && drop(from, to, msg) {
		l.endpoints[from].dropped.Add(1)
		return nil
	}
	return l.endpoints[to].receive(msg)
}

// LoopbackEndpoint is one participant's view of a Loopback.
type LoopbackEndpoint struct {
	hub *Loopback
	id  int

	mu      sync.RWMutex
	handler Handler
	running bool

	sent     atomic.Int64
	failed   atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

// SetHandler sets the inbound callback.
func (e *LoopbackEndpoint) SetHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Start attaches the endpoint to the hub.
func (e *LoopbackEndpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	return nil
}

// Stop detaches the endpoint; messages sent to it fail with ErrNodeNotRunning.
func (e *LoopbackEndpoint) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

// Send delivers msg to peer's handler.
func (e *LoopbackEndpoint) Send(ctx context.Context, peer int, msg consensus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return ErrNodeNotRunning
	}

	if err := e.hub.deliver(e.id, peer, msg); err != nil {
		e.failed.Add(1)
		return err
	}
	e.sent.Add(1)
	return nil
}

func (e *LoopbackEndpoint) receive(msg consensus.Message) error {
	e.mu.RLock()
	running := e.running
	handler := e.handler
	e.mu.RUnlock()

	if !running {
		return fmt.Errorf("%w: participant %d", ErrNodeNotRunning, e.id)
	}
	e.received.Add(1)
	if handler != nil {
		handler(msg)
	}
	return nil
}

// Stats returns delivery counters.
func (e *LoopbackEndpoint) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Kind:      "loopback",
		Address:   fmt.Sprintf("loopback://%d", e.id),
		IsRunning: e.running,
		PeerCount: len(e.hub.endpoints) - 1,
		Sent:      e.sent.Load(),
		Failed:    e.failed.Load(),
		Received:  e.received.Load(),
		Dropped:   e.dropped.Load(),
	}
}
