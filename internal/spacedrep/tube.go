package spacedrep

import (
	"fmt"
	"time"
)

// Stitch is a single unit of content together with its recurrence state.
type Stitch struct {
	ID              string          `json:"id"`
	SkipNumber      int             `json:"skip_number"`
	DistractorLevel DistractorLevel `json:"distractor_level"`

	// Bookkeeping. Not consulted by the scheduler.
	TotalAttempts   int        `json:"total_attempts"`
	LastScore       int        `json:"last_score"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// NewStitch returns a stitch at the bottom of both ratchets.
func NewStitch(id string) Stitch {
	return Stitch{
		ID:              id,
		SkipNumber:      MinSkip,
		DistractorLevel: DistractorL1,
	}
}

func (s Stitch) clone() Stitch {
	out := s
	if s.LastCompletedAt != nil {
		t := *s.LastCompletedAt
		out.LastCompletedAt = &t
	}
	return out
}

// TubeNumber identifies one of the three tubes.
type TubeNumber int

const (
	Tube1 TubeNumber = 1
	Tube2 TubeNumber = 2
	Tube3 TubeNumber = 3
)

// NumTubes is the fixed number of tubes in a TubeSet.
const NumTubes = 3

// Valid reports whether n is 1, 2 or 3.
func (n TubeNumber) Valid() bool {
	return n >= Tube1 && n <= Tube3
}

// Next returns the tube after n in rotation order.
func (n TubeNumber) Next() TubeNumber {
	if n == Tube3 {
		return Tube1
	}
	return n + 1
}

// Tube is an ordered queue of stitches. The index of a stitch in Slots is
// its position; slot 0 holds the active stitch.
type Tube struct {
	Number   TubeNumber `json:"number"`
	ThreadID string     `json:"thread_id"`
	Slots    []Stitch   `json:"slots"`
}

// NewTube builds a tube whose slots hold the given stitches in order.
func NewTube(n TubeNumber, threadID string, stitches ...Stitch) Tube {
	slots := make([]Stitch, len(stitches))
	copy(slots, stitches)
	return Tube{Number: n, ThreadID: threadID, Slots: slots}
}

// Len returns the number of slots.
func (t Tube) Len() int {
	return len(t.Slots)
}

// Active returns the stitch at slot 0. ok is false for an empty tube.
func (t Tube) Active() (s Stitch, ok bool) {
	if len(t.Slots) == 0 {
		return Stitch{}, false
	}
	return t.Slots[0], true
}

// Position returns the slot index of the stitch with the given id, or -1.
func (t Tube) Position(stitchID string) int {
	for i, s := range t.Slots {
		if s.ID == stitchID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the tube.
func (t Tube) Clone() Tube {
	out := t
	out.Slots = make([]Stitch, len(t.Slots))
	for i, s := range t.Slots {
		out.Slots[i] = s.clone()
	}
	return out
}

// Validate checks that every stitch has an id, valid ratchet values, and
// that no id appears twice.
func (t Tube) Validate() error {
	if !t.Number.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTubeNumber, t.Number)
	}
	seen := make(map[string]int, len(t.Slots))
	for i, s := range t.Slots {
		if s.ID == "" {
			return fmt.Errorf("tube %d slot %d: empty stitch id", t.Number, i)
		}
		if prev, dup := seen[s.ID]; dup {
			return fmt.Errorf("tube %d: stitch %q at slots %d and %d", t.Number, s.ID, prev, i)
		}
		seen[s.ID] = i
		if !IsValidSkip(s.SkipNumber) {
			return fmt.Errorf("tube %d stitch %q: skip number %d not on ratchet", t.Number, s.ID, s.SkipNumber)
		}
		if !s.DistractorLevel.Valid() {
			return fmt.Errorf("tube %d stitch %q: unknown distractor level %q", t.Number, s.ID, s.DistractorLevel)
		}
	}
	return nil
}
