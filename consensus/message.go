package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for messages that fail wire validation.
var ErrInvalidMessage = errors.New("invalid message")

// Phase is a sub-step of a round.
type Phase int8

const (
	// PhasePropose is phase 1: every participant proposes its current value.
	PhasePropose Phase = 1
	// PhaseConfirm is phase 2: every participant confirms the phase-1 outcome.
	PhaseConfirm Phase = 2
)

// Message is one vote for a round and phase. Messages are never mutated after creation.
type Message struct {
	SenderID int   `json:"senderId"`
	Round    int   `json:"round"`
	Phase    Phase `json:"phase"`
	Value    Value `json:"value"`
}

// wireMessage is used to detect missing fields while decoding.
type wireMessage struct {
	SenderID *int            `json:"senderId"`
	Round    *int            `json:"round"`
	Phase    *Phase          `json:"phase"`
	Value    json.RawMessage `json:"value"`
}

// UnmarshalJSON requires all four fields to be present.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if w.SenderID == nil || w.Round == nil || w.Phase == nil || w.Value == nil {
		return fmt.Errorf("%w: missing field", ErrInvalidMessage)
	}
	var v Value
	if err := v.UnmarshalJSON(w.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	*m = Message{
		SenderID: *w.SenderID,
		Round:    *w.Round,
		Phase:    *w.Phase,
		Value:    v,
	}
	return nil
}

// Validate checks the message against a group of n participants.
func (m Message) Validate(n int) error {
	if m.SenderID < 0 || m.SenderID >= n {
		return fmt.Errorf("%w: sender %d outside [0,%d)", ErrInvalidMessage, m.SenderID, n)
	}
	if m.Round < 0 {
		return fmt.Errorf("%w: negative round %d", ErrInvalidMessage, m.Round)
	}
	if m.Phase != PhasePropose && m.Phase != PhaseConfirm {
		return fmt.Errorf("%w: phase %d", ErrInvalidMessage, m.Phase)
	}
	if !m.Value.IsValid() {
		return fmt.Errorf("%w: value %d", ErrInvalidMessage, m.Value)
	}
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("msg{from=%d round=%d phase=%d value=%s}", m.SenderID, m.Round, m.Phase, m.Value)
}
