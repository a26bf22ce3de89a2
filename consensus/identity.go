package consensus

import (
	"errors"
	"fmt"
)

// ErrInvalidIdentity is returned by NewParticipant for an inconsistent identity.
var ErrInvalidIdentity = errors.New("invalid participant identity")

// Identity is fixed for the lifetime of a participant.
type Identity struct {
	ID     int  `json:"id"`
	N      int  `json:"n"`
	F      int  `json:"f"`
	Faulty bool `json:"faulty"`
}

// Validate checks 0 <= ID < N and F >= 0.
func (id Identity) Validate() error {
	if id.N < 1 {
		return fmt.Errorf("%w: N=%d", ErrInvalidIdentity, id.N)
	}
	if id.ID < 0 || id.ID >= id.N {
		return fmt.Errorf("%w: id %d outside [0,%d)", ErrInvalidIdentity, id.ID, id.N)
	}
	if id.F < 0 {
		return fmt.Errorf("%w: F=%d", ErrInvalidIdentity, id.F)
	}
	return nil
}
