package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// MaxMessageSize bounds a single encoded message on every transport.
const MaxMessageSize = 64 * 1024

// Common errors for network operations
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrSendFailed     = errors.New("failed to send message")
	ErrQueueFull      = errors.New("outbound queue full")
	ErrMessageTooBig  = errors.New("message exceeds maximum size")
)

// Handler receives every validated inbound message.
type Handler func(msg consensus.Message)

// Transport is a consensus.Transport with an inbound side and a lifecycle.
type Transport interface {
	consensus.Transport

	// SetHandler installs the inbound callback. It must be called before Start.
	SetHandler(handler Handler)
	Start() error
	Stop()
	Stats() Stats
}

// Stats contains transport statistics.
type Stats struct {
	Kind      string `json:"kind"`
	Address   string `json:"address,omitempty"`
	IsRunning bool   `json:"is_running"`
	PeerCount int    `json:"peer_count"`
	QueueSize int    `json:"queue_size"`
	Sent      int64  `json:"sent"`
	Failed    int64  `json:"failed"`
	Received  int64  `json:"received"`
	Dropped   int64  `json:"dropped"`
}

// PeerTable maps participant index to network address.
type PeerTable []string

// Address returns the address of peer.
func (t PeerTable) Address(peer int) (string, error) {
	if peer < 0 || peer >= len(t) || t[peer] == "" {
		return "", fmt.Errorf("%w: %d", ErrPeerNotFound, peer)
	}
	return t[peer], nil
}

// Size returns the number of participants in the table.
func (t PeerTable) Size() int {
	return len(t)
}

func listenAddress(id int, listen string, peers PeerTable) (string, error) {
	if id < 0 || id >= peers.Size() {
		return "", fmt.Errorf("%w: %d", ErrPeerNotFound, id)
	}
	if listen != "" {
		return listen, nil
	}
	return peers.Address(id)
}

// EncodeMessage serializes msg for the wire.
func EncodeMessage(msg consensus.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooBig
	}
	return data, nil
}

// DecodeMessage parses and validates an inbound message for a group of n participants.
func DecodeMessage(data []byte, n int) (consensus.Message, error) {
	var msg consensus.Message
	if len(data) > MaxMessageSize {
		return msg, ErrMessageTooBig
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if err := msg.Validate(n); err != nil {
		return msg, err
	}
	return msg, nil
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*ZmqTransport)(nil)
	_ Transport = (*GRPCTransport)(nil)
	_ Transport = (*LoopbackEndpoint)(nil)
)
