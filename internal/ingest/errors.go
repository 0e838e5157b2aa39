package ingest

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("store timeout")
)

// storeError classifies a failed store call. Deadline errors become
// ErrTimeout, everything else ErrStoreUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
