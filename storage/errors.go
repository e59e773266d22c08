package storage

import (
	"errors"
	"fmt"
)

// AbortError is returned by every operation on a storage that was reset.
// Reset is always true: nothing buffered since the last flush became durable.
type AbortError struct {
	Reason string
	Reset  bool
}

func (e AbortError) Error() string {
	return fmt.Sprintf("actor reset: %s", e.Reason)
}

// ErrSizeLimitExceeded rejects a write that would grow the database past the
// voluntary size limit.
var ErrSizeLimitExceeded = errors.New("database size limit exceeded")

// IsAbortError reports whether err comes from a reset storage.
func IsAbortError(err error) bool {
	var ae AbortError
	return errors.As(err, &ae)
}
