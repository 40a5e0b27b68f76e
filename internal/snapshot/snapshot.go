// Package snapshot converts TubeSets to and from their persisted form.
//
// The canonical form is an ordered slot list per tube. Older sparse
// position maps are translated here and nowhere else.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FormatVersion is the version written by Encode.
const FormatVersion = 2

// LegacyFormatVersion is the sparse position-map format.
const LegacyFormatVersion = 1

// ErrMalformedSnapshot matches every decode failure caused by the snapshot
// content itself.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Snapshot is the flat, versioned persisted form of a TubeSet.
//
// Sequence and SavedAt are stamped by the session when handing the snapshot
// to storage; they are not part of the TubeSet.
type Snapshot struct {
	Version     int         `json:"version" validate:"eq=2"`
	Sequence    uint64      `json:"sequence"`
	SavedAt     time.Time   `json:"saved_at"`
	ActiveTube  int         `json:"active_tube" validate:"min=1,max=3"`
	CycleCount  int         `json:"cycle_count" validate:"gte=0"`
	TotalPoints int         `json:"total_points"`
	Tubes       []TubeState `json:"tubes" validate:"len=3,dive"`
}

// TubeState is one tube of a Snapshot.
type TubeState struct {
	TubeNumber int         `json:"tube_number" validate:"min=1,max=3"`
	ThreadID   string      `json:"thread_id"`
	Slots      []SlotState `json:"slots" validate:"dive"`
}

// SlotState is one stitch of a TubeState, in slot order.
type SlotState struct {
	StitchID        string     `json:"stitch_id" validate:"required"`
	SkipNumber      int        `json:"skip_number" validate:"oneof=1 3 5 10 25 100"`
	DistractorLevel string     `json:"distractor_level" validate:"oneof=L1 L2 L3"`
	TotalAttempts   int        `json:"total_attempts,omitempty" validate:"gte=0"`
	LastScore       int        `json:"last_score,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// MalformedError reports why a snapshot could not be decoded.
type MalformedError struct {
	Reasons []string
	Err     error
}

func (e *MalformedError) Error() string {
	msg := "malformed snapshot: " + strings.Join(e.Reasons, "; ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedSnapshot) true for every MalformedError.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedSnapshot
}

func malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reasons: []string{fmt.Sprintf(format, args...)}}
}
