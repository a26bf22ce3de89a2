package consensus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSON(t *testing.T) {
	cases := map[Value]string{
		Zero:      `0`,
		One:       `1`,
		Ambiguous: `"?"`,
		Unset:     `null`,
	}
	for value, wire := range cases {
		data, err := json.Marshal(value)
		require.NoError(t, err)
		assert.Equal(t, wire, string(data))

		var decoded Value
		require.NoError(t, json.Unmarshal([]byte(wire), &decoded))
		assert.Equal(t, value, decoded)
	}
}

func TestValueRejectsUnknownEncodings(t *testing.T) {
	for _, wire := range []string{`2`, `"0"`, `"1"`, `true`, `"x"`, `-1`} {
		var v Value
		err := json.Unmarshal([]byte(wire), &v)
		assert.ErrorIs(t, err, ErrInvalidValue, wire)
	}

	_, err := json.Marshal(Value(7))
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	for _, v := range []Value{Zero, One, Ambiguous, Unset} {
		parsed, err := ParseValue(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}

	_, err := ParseValue("maybe")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestBinaryValue(t *testing.T) {
	v, err := BinaryValue(1)
	require.NoError(t, err)
	assert.Equal(t, One, v)
	assert.True(t, v.IsBinary())
	assert.False(t, Ambiguous.IsBinary())
	assert.False(t, Unset.IsBinary())

	_, err = BinaryValue(2)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
