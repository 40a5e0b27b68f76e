package spacedrep

import "fmt"

// TubeSet is the complete scheduling state of one learner: three tubes, the
// active tube pointer, the number of finished rotations and a points tally.
type TubeSet struct {
	Tubes       [NumTubes]Tube `json:"tubes"`
	ActiveTube  TubeNumber     `json:"active_tube"`
	CycleCount  int            `json:"cycle_count"`
	TotalPoints int            `json:"total_points"`
}

// NewTubeSet assembles a TubeSet from exactly three tubes numbered 1, 2 and
// 3 (in any order). The set starts on tube 1 with zero cycles and points.
func NewTubeSet(tubes ...Tube) (TubeSet, error) {
	var ts TubeSet
	if len(tubes) != NumTubes {
		return ts, fmt.Errorf("need %d tubes, got %d", NumTubes, len(tubes))
	}
	var filled [NumTubes]bool
	for _, t := range tubes {
		if !t.Number.Valid() {
			return ts, fmt.Errorf("%w: %d", ErrInvalidTubeNumber, t.Number)
		}
		idx := int(t.Number) - 1
		if filled[idx] {
			return ts, fmt.Errorf("tube %d given twice", t.Number)
		}
		if err := t.Validate(); err != nil {
			return ts, err
		}
		filled[idx] = true
		ts.Tubes[idx] = t.Clone()
	}
	ts.ActiveTube = Tube1
	return ts, nil
}

// Tube returns the tube with number n. It panics if n is not 1, 2 or 3.
func (ts TubeSet) Tube(n TubeNumber) Tube {
	return ts.Tubes[n-1]
}

// Active returns the currently active tube.
func (ts TubeSet) Active() Tube {
	return ts.Tube(ts.ActiveTube)
}

// ActiveStitch returns the stitch at slot 0 of the active tube.
func (ts TubeSet) ActiveStitch() (Stitch, bool) {
	return ts.Active().Active()
}

// Clone returns a deep copy of the set.
func (ts TubeSet) Clone() TubeSet {
	out := ts
	for i := range ts.Tubes {
		out.Tubes[i] = ts.Tubes[i].Clone()
	}
	return out
}

// Validate checks the structural invariants of the set: valid active tube,
// tube numbers matching their index, and per-tube slot validity.
func (ts TubeSet) Validate() error {
	if !ts.ActiveTube.Valid() {
		return fmt.Errorf("%w: active tube %d", ErrInvalidTubeNumber, ts.ActiveTube)
	}
	if ts.CycleCount < 0 {
		return fmt.Errorf("negative cycle count %d", ts.CycleCount)
	}
	for i, t := range ts.Tubes {
		if int(t.Number) != i+1 {
			return fmt.Errorf("tube at index %d has number %d", i, t.Number)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
