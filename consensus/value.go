package consensus

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrInvalidValue is returned when a vote value cannot be decoded.
var ErrInvalidValue = errors.New("invalid vote value")

// Value is a participant's vote: 0, 1, the ambiguous marker or unset.
type Value int8

const (
	// Unset is only held by faulty participants.
	Unset Value = -1
	// Zero is the binary value 0.
	Zero Value = 0
	// One is the binary value 1.
	One Value = 1
	// Ambiguous means no clear majority was observed in phase 1.
	Ambiguous Value = 2
)

// IsBinary reports whether v is Zero or One.
func (v Value) IsBinary() bool {
	return v == Zero || v == One
}

// IsValid reports whether v is one of the four known values.
func (v Value) IsValid() bool {
	return v >= Unset && v <= Ambiguous
}

// String returns "0", "1", "?" or "null".
func (v Value) String() string {
	switch v {
	case Zero:
		return "0"
	case One:
		return "1"
	case Ambiguous:
		return "?"
	case Unset:
		return "null"
	default:
		return fmt.Sprintf("Value(%d)", int8(v))
	}
}

// ParseValue is the inverse of String.
func ParseValue(s string) (Value, error) {
	switch s {
	case "0":
		return Zero, nil
	case "1":
		return One, nil
	case "?":
		return Ambiguous, nil
	case "null", "":
		return Unset, nil
	}
	return Unset, fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// BinaryValue converts 0 or 1 to a Value.
func BinaryValue(b int) (Value, error) {
	switch b {
	case 0:
		return Zero, nil
	case 1:
		return One, nil
	}
	return Unset, fmt.Errorf("%w: %d is not binary", ErrInvalidValue, b)
}

// MarshalJSON encodes 0 and 1 as numbers, the ambiguous marker as "?" and unset as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v {
	case Zero:
		return []byte("0"), nil
	case One:
		return []byte("1"), nil
	case Ambiguous:
		return []byte(`"?"`), nil
	case Unset:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidValue, int8(v))
}

// UnmarshalJSON accepts exactly 0, 1, "?" and null.
func (v *Value) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "0":
		*v = Zero
	case "1":
		*v = One
	case `"?"`:
		*v = Ambiguous
	case "null":
		*v = Unset
	default:
		return fmt.Errorf("%w: %s", ErrInvalidValue, data)
	}
	return nil
}
