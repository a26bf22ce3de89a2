package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
)

const envelopeType = "consensus"

// Envelope is the ZeroMQ frame payload.
type Envelope struct {
	Type      string            `json:"type"`
	From      int               `json:"from"`
	Timestamp time.Time         `json:"timestamp"`
	Message   consensus.Message `json:"message"`
}

// outbound is one peer's send queue, drained by its own goroutine so a slow or absent
// peer never blocks delivery to the others.
type outbound struct {
	peer    int
	address string
	queue   chan []byte
	dealer  zmq4.Socket
}

// ZmqTransport is a ZeroMQ transport: a ROUTER bound on the participant's own address
// and one DEALER per peer, dialed on first use.
type ZmqTransport struct {
	id      int
	address string
	peers   PeerTable
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	router   zmq4.Socket
	outbound map[int]*outbound

	mu      sync.RWMutex
	handler Handler
	msgChan chan consensus.Message
	running bool
	stopped bool
	wg      sync.WaitGroup

	sent     atomic.Int64
	failed   atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

// NewZmqTransport creates a transport for participant id. The ROUTER binds to listen,
// or peers[id] when listen is empty; queueSize bounds each per-peer queue and the inbound
// queue.
func NewZmqTransport(id int, listen string, peers PeerTable, queueSize int) (*ZmqTransport, error) {
	address, err := listenAddress(id, listen, peers)
	if err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &ZmqTransport{
		id:       id,
		address:  address,
		peers:    peers,
		logger:   logging.MustGetLogger("network.zmq").With("participant", id),
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(map[int]*outbound),
		msgChan:  make(chan consensus.Message, queueSize),
	}
	for peer, addr := range peers {
		if peer == id || addr == "" {
			continue
		}
		t.outbound[peer] = &outbound{
			peer:    peer,
			address: addr,
			queue:   make(chan []byte, queueSize),
		}
	}
	return t, nil
}

// SetHandler sets the inbound callback.
func (t *ZmqTransport) SetHandler(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start binds the ROUTER and launches the receive and send goroutines.
func (t *ZmqTransport) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("transport already running")
	}
	if t.stopped {
		t.mu.Unlock()
		return ErrNodeNotRunning
	}

	t.router = zmq4.NewRouter(t.ctx, zmq4.WithID(t.socketID()))
	if err := t.router.Listen(t.address); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.receiverLoop()

	t.wg.Add(1)
	go t.messageProcessor()

	for _, out := range t.outbound {
		t.wg.Add(1)
		go t.senderLoop(out)
	}

	t.logger.Infow("ZeroMQ transport started", "address", t.address, "peers", len(t.outbound))
	return nil
}

// Stop shuts the transport down. It cannot be restarted.
func (t *ZmqTransport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.stopped = true
		t.mu.Unlock()
		return
	}
	t.running = false
	t.stopped = true
	t.mu.Unlock()

	t.cancel()

	if t.router != nil {
		if err := t.router.Close(); err != nil {
			t.logger.Debugw("Router close failed", "error", err)
		}
	}

	t.wg.Wait()
	t.logger.Infow("ZeroMQ transport stopped", "address", t.address)
}

// Send queues msg for peer. It never blocks; a full queue returns ErrQueueFull.
func (t *ZmqTransport) Send(ctx context.Context, peer int, msg consensus.Message) error {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if !running {
		return ErrNodeNotRunning
	}

	out, ok := t.outbound[peer]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPeerNotFound, peer)
	}

	data, err := json.Marshal(Envelope{
		Type:      envelopeType,
		From:      t.id,
		Timestamp: time.Now(),
		Message:   msg,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooBig
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out.queue <- data:
		return nil
	default:
		t.failed.Add(1)
		return fmt.Errorf("%w: peer %d", ErrQueueFull, peer)
	}
}

// Addr returns the bound ROUTER endpoint, or the configured one before Start.
func (t *ZmqTransport) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.running && t.router != nil {
		if addr := t.router.Addr(); addr != nil {
			return "tcp://" + addr.String()
		}
	}
	return t.address
}

// Stats returns current transport statistics.
func (t *ZmqTransport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	queued := len(t.msgChan)
	for _, out := range t.outbound {
		queued += len(out.queue)
	}
	return Stats{
		Kind:      "zmq",
		Address:   t.address,
		IsRunning: t.running,
		PeerCount: len(t.outbound),
		QueueSize: queued,
		Sent:      t.sent.Load(),
		Failed:    t.failed.Load(),
		Received:  t.received.Load(),
		Dropped:   t.dropped.Load(),
	}
}

func (t *ZmqTransport) socketID() zmq4.SocketIdentity {
	return zmq4.SocketIdentity("benor-" + strconv.Itoa(t.id))
}

// senderLoop drains one peer's queue. The DEALER is dialed lazily and redialed after a
// failed dial; messages that cannot be sent are dropped.
func (t *ZmqTransport) senderLoop(out *outbound) {
	defer t.wg.Done()
	defer func() {
		if out.dealer != nil {
			if err := out.dealer.Close(); err != nil {
				t.logger.Debugw("Dealer close failed", "peer", out.peer, "error", err)
			}
		}
	}()

	for {
		select {
		case <-t.ctx.Done():
			return
		case data := <-out.queue:
			if out.dealer == nil {
				dealer := zmq4.NewDealer(t.ctx, zmq4.WithID(t.socketID()))
				if err := dealer.Dial(out.address); err != nil {
					_ = dealer.Close()
					t.failed.Add(1)
					t.logger.Debugw("Dial failed", "peer", out.peer, "address", out.address, "error", err)
					continue
				}
				out.dealer = dealer
			}
			if err := out.dealer.Send(zmq4.NewMsg(data)); err != nil {
				t.failed.Add(1)
				t.logger.Debugw("Send failed", "peer", out.peer, "error", err)
				continue
			}
			t.sent.Add(1)
		}
	}
}

// receiverLoop continuously receives frames from the ROUTER socket.
func (t *ZmqTransport) receiverLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		msg, err := t.router.Recv()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				continue
			}
		}
		if len(msg.Frames) == 0 {
			continue
		}

		// ROUTER prepends the sender identity frame; the payload is the last frame.
		payload := msg.Frames[len(msg.Frames)-1]
		decoded, err := DecodeEnvelope(payload, t.peers.Size())
		if err != nil {
			t.dropped.Add(1)
			t.logger.Debugw("Dropped malformed frame", "error", err)
			continue
		}

		select {
		case t.msgChan <- decoded:
			t.received.Add(1)
		default:
			t.dropped.Add(1)
		}
	}
}

// messageProcessor hands queued messages to the handler.
func (t *ZmqTransport) messageProcessor() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case msg := <-t.msgChan:
			t.mu.RLock()
			handler := t.handler
			t.mu.RUnlock()

			if handler != nil {
				handler(msg)
			}
		}
	}
}

// DecodeEnvelope parses a ZeroMQ payload and validates the message it carries. The
// envelope sender must match the message sender.
func DecodeEnvelope(data []byte, n int) (consensus.Message, error) {
	var env Envelope
	if len(data) > MaxMessageSize {
		return env.Message, ErrMessageTooBig
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env.Message, err
	}
	if env.Type != envelopeType {
		return env.Message, fmt.Errorf("%w: envelope type %q", consensus.ErrInvalidMessage, env.Type)
	}
	if env.From != env.Message.SenderID {
		return env.Message, fmt.Errorf("%w: envelope from %d carries sender %d",
			consensus.ErrInvalidMessage, env.From, env.Message.SenderID)
	}
	if err := env.Message.Validate(n); err != nil {
		return env.Message, err
	}
	return env.Message, nil
}
