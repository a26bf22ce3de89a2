package network

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

func TestPeerTableAddress(t *testing.T) {
	peers := PeerTable{"127.0.0.1:7000", "", "127.0.0.1:7002"}

	addr, err := peers.Address(2)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7002", addr)

	for _, peer := range []int{-1, 1, 3} {
		_, err := peers.Address(peer)
		assert.ErrorIs(t, err, ErrPeerNotFound, "peer %d", peer)
	}
	assert.Equal(t, 3, peers.Size())
}

func TestListenAddress(t *testing.T) {
	peers := PeerTable{"a:1", "b:2"}

	addr, err := listenAddress(1, "", peers)
	require.NoError(t, err)
	assert.Equal(t, "b:2", addr)

	addr, err = listenAddress(1, "0.0.0.0:2", peers)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:2", addr)

	_, err = listenAddress(2, "x:1", peers)
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"senderId":1,"round":3,"phase":2,"value":"?"}`), 3)
	require.NoError(t, err)
	assert.Equal(t, consensus.Message{SenderID: 1, Round: 3, Phase: consensus.PhaseConfirm, Value: consensus.Ambiguous}, msg)

	bad := []string{
		`{"senderId":3,"round":0,"phase":1,"value":1}`,
		`{"senderId":0,"round":0,"phase":3,"value":1}`,
		`{"senderId":0,"round":0,"phase":1,"value":2}`,
		`{"senderId":0,"phase":1,"value":1}`,
		`not json`,
	}
	for _, data := range bad {
		_, err := DecodeMessage([]byte(data), 3)
		assert.Error(t, err, data)
	}

	_, err = DecodeMessage([]byte(strings.Repeat(" ", MaxMessageSize+1)), 3)
	assert.ErrorIs(t, err, ErrMessageTooBig)
}

func TestEncodeMessage(t *testing.T) {
	data, err := EncodeMessage(consensus.Message{SenderID: 2, Round: 0, Phase: consensus.PhasePropose, Value: consensus.One})
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":2,"round":0,"phase":1,"value":1}`, string(data))
}

func TestDecodeEnvelope(t *testing.T) {
	msg := consensus.Message{SenderID: 1, Round: 4, Phase: consensus.PhasePropose, Value: consensus.Zero}
	data, err := json.Marshal(Envelope{Type: envelopeType, From: 1, Timestamp: time.Now(), Message: msg})
	require.NoError(t, err)

	got, err := DecodeEnvelope(data, 2)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	spoofed, err := json.Marshal(Envelope{Type: envelopeType, From: 0, Message: msg})
	require.NoError(t, err)
	_, err = DecodeEnvelope(spoofed, 2)
	assert.ErrorIs(t, err, consensus.ErrInvalidMessage)

	wrongType, err := json.Marshal(Envelope{Type: "direct", From: 1, Message: msg})
	require.NoError(t, err)
	_, err = DecodeEnvelope(wrongType, 2)
	assert.ErrorIs(t, err, consensus.ErrInvalidMessage)

	_, err = DecodeEnvelope([]byte(`{"type":"consensus","from":0}`), 2)
	assert.Error(t, err)
}

// FuzzEnvelopeParsing tests ZeroMQ envelope parsing with random inputs.
// Run with: go test -fuzz=FuzzEnvelopeParsing -fuzztime=30s ./network/
func FuzzEnvelopeParsing(f *testing.F) {
	valid, _ := json.Marshal(Envelope{
		Type:      envelopeType,
		From:      1,
		Timestamp: time.Now(),
		Message:   consensus.Message{SenderID: 1, Round: 0, Phase: consensus.PhasePropose, Value: consensus.One},
	})
	f.Add(valid)
	f.Add([]byte(`{"type":"consensus","from":0,"message":{"senderId":0,"round":1,"phase":2,"value":"?"}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"type":"consensus","message":null}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := DecodeEnvelope(data, 4)
		if err != nil {
			return
		}
		if verr := msg.Validate(4); verr != nil {
			t.Fatalf("decoded message failed validation: %v", verr)
		}
		if _, merr := EncodeMessage(msg); merr != nil {
			t.Fatalf("decoded message failed to encode: %v", merr)
		}
	})
}
