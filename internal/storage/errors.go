package storage

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable wraps every failure of the underlying database, so read
// paths can tell "no data" apart from "cannot read data".
var ErrStoreUnavailable = errors.New("storage: store unavailable")

// ErrInvalidEntry is returned when a row violates a table invariant.
var ErrInvalidEntry = errors.New("storage: invalid entry")

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
