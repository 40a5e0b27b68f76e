package session

import (
	"errors"
	"fmt"

	"github.com/abhisek/triplehelix/internal/store"
)

// ErrBusy is returned in reject mode when another operation on the same
// session is in flight. The caller may retry once it has finished.
var ErrBusy = errors.New("session busy")

// StorageError reports a persistence failure after the in-memory mutation
// already succeeded. The accompanying result is valid and must be kept;
// only durability is in question.
type StorageError struct {
	Op       string
	Sequence uint64
	Err      error

	// SaveFailed is set when the snapshot itself was not stored.
	SaveFailed bool

	// History holds completion events that could not be appended.
	History []store.CompletionEventData
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (sequence %d): %v", e.Op, e.Sequence, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
