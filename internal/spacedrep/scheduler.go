package spacedrep

import (
	"fmt"
	"time"
)

// Completion describes what a graded attempt did to a stitch.
type Completion struct {
	StitchID string
	Tube     TubeNumber
	Score    int
	Total    int
	Perfect  bool

	SkipBefore       int
	SkipAfter        int
	DistractorBefore DistractorLevel
	DistractorAfter  DistractorLevel

	// Slot is where the stitch sits after the attempt.
	Slot int

	CompletedAt time.Time
}

// Complete applies a graded attempt to the active stitch of t and returns
// the resulting tube. t itself is left untouched.
//
// On a perfect score the stitch climbs both ratchets and moves back
// min(newSkip, len-1) slots; every stitch it passes shifts forward by one.
// On any other score its skip number drops back to MinSkip and it stays at
// slot 0.
func Complete(t Tube, stitchID string, score, total int, now time.Time) (Tube, Completion, error) {
	if total <= 0 || score < 0 || score > total {
		return t, Completion{}, fmt.Errorf("%w: %d of %d", ErrInvalidScore, score, total)
	}
	if len(t.Slots) == 0 {
		return t, Completion{}, fmt.Errorf("%w: tube %d", ErrEmptyTube, t.Number)
	}
	if t.Slots[0].ID != stitchID {
		return t, Completion{}, fmt.Errorf("%w: %q, active is %q", ErrNotActiveStitch, stitchID, t.Slots[0].ID)
	}

	out := t.Clone()
	s := out.Slots[0]
	c := Completion{
		StitchID:         s.ID,
		Tube:             t.Number,
		Score:            score,
		Total:            total,
		Perfect:          score == total,
		SkipBefore:       s.SkipNumber,
		DistractorBefore: s.DistractorLevel,
		CompletedAt:      now,
	}

	s.TotalAttempts++
	s.LastScore = score
	completedAt := now
	s.LastCompletedAt = &completedAt

	if !c.Perfect {
		s.SkipNumber = MinSkip
		out.Slots[0] = s
		c.SkipAfter = s.SkipNumber
		c.DistractorAfter = s.DistractorLevel
		return out, c, nil
	}

	s.DistractorLevel = s.DistractorLevel.Next()
	s.SkipNumber = NextSkip(s.SkipNumber)

	bound := min(s.SkipNumber, len(out.Slots)-1)
	copy(out.Slots[0:bound], out.Slots[1:bound+1])
	out.Slots[bound] = s

	c.SkipAfter = s.SkipNumber
	c.DistractorAfter = s.DistractorLevel
	c.Slot = bound
	return out, c, nil
}
