package state

import (
	"errors"
	"fmt"
)

// ErrInvalidCheckpoint is returned when a loaded file does not carry the
// data_file identity field and therefore cannot be a checkpoint.
var ErrInvalidCheckpoint = errors.New("not a valid checkpoint file")

// SaveError is returned when the atomic rename onto the checkpoint path
// failed after the snapshot was fully written to the temporary file. The
// previous checkpoint on disk is intact; callers may retry, possibly with a
// different path.
type SaveError struct {
	// Path is the checkpoint path the rename targeted
	Path string
	// Err is the underlying rename failure
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save checkpoint data to %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
