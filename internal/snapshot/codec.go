package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Encode converts a TubeSet into its canonical snapshot form.
func Encode(ts spacedrep.TubeSet) Snapshot {
	s := Snapshot{
		Version:     FormatVersion,
		ActiveTube:  int(ts.ActiveTube),
		CycleCount:  ts.CycleCount,
		TotalPoints: ts.TotalPoints,
		Tubes:       make([]TubeState, 0, spacedrep.NumTubes),
	}
	for _, t := range ts.Tubes {
		tube := TubeState{
			TubeNumber: int(t.Number),
			ThreadID:   t.ThreadID,
			Slots:      make([]SlotState, len(t.Slots)),
		}
		for i, st := range t.Slots {
			slot := SlotState{
				StitchID:        st.ID,
				SkipNumber:      st.SkipNumber,
				DistractorLevel: string(st.DistractorLevel),
				TotalAttempts:   st.TotalAttempts,
				LastScore:       st.LastScore,
			}
			if st.LastCompletedAt != nil {
				at := *st.LastCompletedAt
				slot.LastCompletedAt = &at
			}
			tube.Slots[i] = slot
		}
		s.Tubes = append(s.Tubes, tube)
	}
	return s
}

// Decode rebuilds a TubeSet from a snapshot. Any structural problem yields a
// *MalformedError; nothing is repaired or defaulted.
func Decode(s Snapshot) (spacedrep.TubeSet, error) {
	var ts spacedrep.TubeSet

	if s.Version != FormatVersion {
		return ts, malformed("unsupported format version %d", s.Version)
	}
	if err := structValidator().Struct(s); err != nil {
		return ts, fieldErrors(err)
	}

	var seen [spacedrep.NumTubes]bool
	for _, tube := range s.Tubes {
		idx := tube.TubeNumber - 1
		if seen[idx] {
			return ts, malformed("tube %d appears twice", tube.TubeNumber)
		}
		seen[idx] = true

		slots := make([]spacedrep.Stitch, len(tube.Slots))
		positions := make(map[string]int, len(tube.Slots))
		for i, slot := range tube.Slots {
			if prev, dup := positions[slot.StitchID]; dup {
				return ts, malformed("tube %d: stitch %q at slots %d and %d", tube.TubeNumber, slot.StitchID, prev, i)
			}
			positions[slot.StitchID] = i

			st := spacedrep.Stitch{
				ID:              slot.StitchID,
				SkipNumber:      slot.SkipNumber,
				DistractorLevel: spacedrep.DistractorLevel(slot.DistractorLevel),
				TotalAttempts:   slot.TotalAttempts,
				LastScore:       slot.LastScore,
			}
			if slot.LastCompletedAt != nil {
				at := *slot.LastCompletedAt
				st.LastCompletedAt = &at
			}
			slots[i] = st
		}
		ts.Tubes[idx] = spacedrep.Tube{
			Number:   spacedrep.TubeNumber(tube.TubeNumber),
			ThreadID: tube.ThreadID,
			Slots:    slots,
		}
	}

	ts.ActiveTube = spacedrep.TubeNumber(s.ActiveTube)
	ts.CycleCount = s.CycleCount
	ts.TotalPoints = s.TotalPoints

	if err := ts.Validate(); err != nil {
		return spacedrep.TubeSet{}, &MalformedError{Reasons: []string{"invalid tube set"}, Err: err}
	}
	return ts, nil
}

// fieldErrors turns validator output into a MalformedError naming every
// offending field.
func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &MalformedError{Reasons: []string{"validation"}, Err: err}
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			reasons = append(reasons, fmt.Sprintf("%s=%v fails %s=%s", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param()))
		} else {
			reasons = append(reasons, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return &MalformedError{Reasons: reasons}
}
