package spacedrep

import "fmt"

// Cycle moves the active pointer to the next tube (1→2→3→1). Wrapping from
// tube 3 to tube 1 counts as one finished cycle.
func Cycle(ts TubeSet) (TubeSet, error) {
	next := ts.ActiveTube.Next()
	if ts.Tube(next).Len() == 0 {
		return ts, fmt.Errorf("%w: tube %d", ErrEmptyTargetTube, next)
	}
	out := ts.Clone()
	if ts.ActiveTube == Tube3 {
		out.CycleCount++
	}
	out.ActiveTube = next
	return out, nil
}

// Select makes tube n the active tube without counting a cycle.
func Select(ts TubeSet, n TubeNumber) (TubeSet, error) {
	if !n.Valid() {
		return ts, fmt.Errorf("%w: %d", ErrInvalidTubeNumber, n)
	}
	if ts.Tube(n).Len() == 0 {
		return ts, fmt.Errorf("%w: tube %d", ErrEmptyTargetTube, n)
	}
	out := ts.Clone()
	out.ActiveTube = n
	return out, nil
}
