package spacedrep

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of all bad-input errors. Callers should report
// these and never retry them.
var ErrValidation = errors.New("validation failed")

// ErrStateMismatch is the parent of errors raised when the caller's view of a
// tube disagrees with the tube itself. Callers should resynchronize from a
// fresh snapshot.
var ErrStateMismatch = errors.New("state mismatch")

var (
	ErrInvalidScore      = fmt.Errorf("%w: invalid score", ErrValidation)
	ErrInvalidTubeNumber = fmt.Errorf("%w: invalid tube number", ErrValidation)

	ErrNotActiveStitch = fmt.Errorf("%w: stitch is not active", ErrStateMismatch)
	ErrEmptyTube       = fmt.Errorf("%w: tube is empty", ErrStateMismatch)
	ErrEmptyTargetTube = fmt.Errorf("%w: target tube is empty", ErrStateMismatch)
)
