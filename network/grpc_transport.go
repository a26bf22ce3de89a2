package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/logging"
)

const (
	peerServiceName = "benor.Peer"
	deliverMethod   = "/benor.Peer/Deliver"
	codecName       = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the peer service run without generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// DeliverRequest carries one consensus message.
type DeliverRequest struct {
	From    int               `json:"from"`
	Message consensus.Message `json:"message"`
}

// DeliverReply acknowledges a DeliverRequest.
type DeliverReply struct {
	Accepted bool `json:"accepted"`
}

// PeerServer is the server API for the benor.Peer service.
type PeerServer interface {
	Deliver(ctx context.Context, req *DeliverRequest) (*DeliverReply, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*PeerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "benor/peer.json",
}

// RequestObserver is notified of every served request.
type RequestObserver func(method, status string, duration time.Duration)

// GRPCTransport delivers messages through unary benor.Peer/Deliver calls.
type GRPCTransport struct {
	id          int
	address     string
	peers       PeerTable
	sendTimeout time.Duration
	observer    RequestObserver
	logger      *zap.SugaredLogger

	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.RWMutex
	conns   map[int]*grpc.ClientConn
	handler Handler
	running bool
	stopped bool

	sent     atomic.Int64
	failed   atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

// NewGRPCTransport creates a transport for participant id. listen defaults to peers[id];
// observer may be nil.
func NewGRPCTransport(id int, listen string, peers PeerTable, sendTimeout time.Duration, observer RequestObserver) (*GRPCTransport, error) {
	address, err := listenAddress(id, listen, peers)
	if err != nil {
		return nil, err
	}
	return &GRPCTransport{
		id:          id,
		address:     address,
		peers:       peers,
		sendTimeout: sendTimeout,
		observer:    observer,
		logger:      logging.MustGetLogger("network.grpc").With("participant", id),
		conns:       make(map[int]*grpc.ClientConn),
	}, nil
}

// SetHandler sets the inbound callback.
func (t *GRPCTransport) SetHandler(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start listens on the participant address and serves asynchronously.
func (t *GRPCTransport) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	if t.stopped {
		t.mu.Unlock()
		return ErrNodeNotRunning
	}

	lis, err := net.Listen("tcp", t.address)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", t.address, err)
	}
	t.listener = lis

	t.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.UnaryInterceptor(t.observe),
	)
	t.grpcServer.RegisterService(&peerServiceDesc, t)

	t.running = true
	t.mu.Unlock()

	go func() {
		_ = t.grpcServer.Serve(lis)
	}()

	t.logger.Infow("gRPC transport started", "address", lis.Addr().String())
	return nil
}

// Stop stops the server and closes every client connection.
func (t *GRPCTransport) Stop() {
	t.mu.Lock()
	t.stopped = true
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	server := t.grpcServer
	conns := t.conns
	t.conns = make(map[int]*grpc.ClientConn)
	t.mu.Unlock()

	if server != nil {
		server.Stop()
	}
	for peer, conn := range conns {
		if err := conn.Close(); err != nil {
			t.logger.Debugw("Client close failed", "peer", peer, "error", err)
		}
	}
	t.logger.Infow("gRPC transport stopped", "address", t.address)
}

// Addr returns the bound listener address, or the configured one before Start.
func (t *GRPCTransport) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.address
}

// Send performs one Deliver call bounded by the send timeout.
func (t *GRPCTransport) Send(ctx context.Context, peer int, msg consensus.Message) error {
	conn, err := t.conn(peer)
	if err != nil {
		return err
	}

	if t.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.sendTimeout)
		defer cancel()
	}

	reply := new(DeliverReply)
	req := &DeliverRequest{From: t.id, Message: msg}
	if err := conn.Invoke(ctx, deliverMethod, req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		t.failed.Add(1)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	t.sent.Add(1)
	return nil
}

// Deliver implements PeerServer.
func (t *GRPCTransport) Deliver(_ context.Context, req *DeliverRequest) (*DeliverReply, error) {
	t.mu.RLock()
	running := t.running
	handler := t.handler
	t.mu.RUnlock()

	if !running {
		return nil, status.Error(codes.Unavailable, ErrNodeNotRunning.Error())
	}
	if req.From != req.Message.SenderID {
		t.dropped.Add(1)
		return nil, status.Errorf(codes.InvalidArgument, "from %d carries sender %d", req.From, req.Message.SenderID)
	}
	if err := req.Message.Validate(t.peers.Size()); err != nil {
		t.dropped.Add(1)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	t.received.Add(1)
	if handler != nil {
		handler(req.Message)
	}
	return &DeliverReply{Accepted: true}, nil
}

// Stats returns current transport statistics.
func (t *GRPCTransport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	address := t.address
	if t.listener != nil {
		address = t.listener.Addr().String()
	}
	return Stats{
		Kind:      "grpc",
		Address:   address,
		IsRunning: t.running,
		PeerCount: t.peers.Size() - 1,
		Sent:      t.sent.Load(),
		Failed:    t.failed.Load(),
		Received:  t.received.Load(),
		Dropped:   t.dropped.Load(),
	}
}

// conn returns the client connection for peer, creating it on first use.
func (t *GRPCTransport) conn(peer int) (*grpc.ClientConn, error) {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return nil, ErrNodeNotRunning
	}
	conn, ok := t.conns[peer]
	t.mu.RUnlock()
	if ok {
		return conn, nil
	}

	if peer == t.id {
		return nil, fmt.Errorf("%w: %d", ErrPeerNotFound, peer)
	}
	address, err := t.peers.Address(peer)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil, ErrNodeNotRunning
	}
	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}
	conn, err = grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(MaxMessageSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

// observe is the unary interceptor feeding the request observer.
func (t *GRPCTransport) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if t.observer != nil {
		t.observer(info.FullMethod, status.Code(err).String(), time.Since(start))
	}
	return resp, err
}
