package consensus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireShape(t *testing.T) {
	msg := Message{SenderID: 3, Round: 7, Phase: PhaseConfirm, Value: Ambiguous}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":3,"round":7,"phase":2,"value":"?"}`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestMessageNullValue(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"senderId":0,"round":0,"phase":1,"value":null}`), &msg))
	assert.Equal(t, Unset, msg.Value)
}

func TestMessageMissingField(t *testing.T) {
	inputs := []string{
		`{"round":0,"phase":1,"value":1}`,
		`{"senderId":0,"phase":1,"value":1}`,
		`{"senderId":0,"round":0,"value":1}`,
		`{"senderId":0,"round":0,"phase":1}`,
		`{"senderId":0,"round":0,"phase":1,"value":"1"}`,
		`[]`,
	}
	for _, in := range inputs {
		var msg Message
		err := json.Unmarshal([]byte(in), &msg)
		assert.ErrorIs(t, err, ErrInvalidMessage, in)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := Message{SenderID: 2, Round: 0, Phase: PhasePropose, Value: One}
	assert.NoError(t, valid.Validate(3))

	bad := []Message{
		{SenderID: 3, Round: 0, Phase: PhasePropose, Value: One},
		{SenderID: -1, Round: 0, Phase: PhasePropose, Value: One},
		{SenderID: 0, Round: -1, Phase: PhasePropose, Value: One},
		{SenderID: 0, Round: 0, Phase: 3, Value: One},
		{SenderID: 0, Round: 0, Phase: PhaseConfirm, Value: Value(9)},
	}
	for _, msg := range bad {
		assert.ErrorIs(t, msg.Validate(3), ErrInvalidMessage, msg.String())
	}
}

// FuzzMessageDecoding checks that arbitrary input never panics and that anything accepted
// survives a round trip.
// Run with: go test -fuzz=FuzzMessageDecoding -fuzztime=30s ./consensus/
func FuzzMessageDecoding(f *testing.F) {
	f.Add([]byte(`{"senderId":1,"round":4,"phase":2,"value":"?"}`))
	f.Add([]byte(`{"senderId":0,"round":0,"phase":1,"value":null}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"senderId":"a","round":0,"phase":1,"value":0}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		out, err := json.Marshal(msg)
		if err != nil {
			if msg.Value.IsValid() {
				t.Fatalf("marshal of decoded message failed: %v", err)
			}
			return
		}
		var again Message
		if err := json.Unmarshal(out, &again); err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if again != msg {
			t.Fatalf("round trip changed message: %v != %v", again, msg)
		}
	})
}
