package db

import (
	"errors"
	"fmt"
)

// ErrStorage wraps every store open, read or write failure.
var ErrStorage = errors.New("storage error")

// StorageError wraps err so that errors.Is(err, ErrStorage) holds.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
