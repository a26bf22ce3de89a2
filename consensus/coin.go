package consensus

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// Coin produces the random fallback bit.
type Coin interface {
	Flip() Value
}

// localCoin is an independent generator owned by a single participant.
type localCoin struct {
	rng *rand.Rand
}

// NewCoin returns a coin seeded from crypto/rand, so no two participants share a sequence.
// It is not safe for concurrent use; only the round loop flips it.
func NewCoin() Coin {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	}
	return &localCoin{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeededCoin returns a deterministic coin for reproducible simulations.
func NewSeededCoin(seed uint64) Coin {
	return &localCoin{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *localCoin) Flip() Value {
	if c.rng.IntN(2) == 0 {
		return Zero
	}
	return One
}
