// Package spacedrep implements the Triple-Helix tube scheduler: three
// ordered queues of stitches, the repositioning rule applied after a graded
// attempt, and the round-robin rotation between tubes.
//
// Everything in this package is a pure value transformation. Callers that
// share a TubeSet between goroutines must serialize access themselves (see
// internal/session).
package spacedrep

import "fmt"

// SkipRatchet is the fixed sequence of skip numbers. A stitch starts at the
// first value and climbs one step per perfect attempt.
var SkipRatchet = []int{1, 3, 5, 10, 25, 100}

// MinSkip is the value a skip number falls back to after a non-perfect attempt.
const MinSkip = 1

// MaxSkip is the top of the skip ratchet.
const MaxSkip = 100

// DistractorLevel is the difficulty tier of the wrong-answer options shown
// with a stitch. It only ever moves up.
type DistractorLevel string

const (
	DistractorL1 DistractorLevel = "L1"
	DistractorL2 DistractorLevel = "L2"
	DistractorL3 DistractorLevel = "L3"
)

// DistractorLevels lists the levels in ascending order.
var DistractorLevels = []DistractorLevel{DistractorL1, DistractorL2, DistractorL3}

// IsValidSkip reports whether k is one of the ratchet values.
func IsValidSkip(k int) bool {
	return skipIndex(k) >= 0
}

// NextSkip returns the ratchet value after k. MaxSkip is returned unchanged.
// An off-ratchet k restarts at the bottom of the ratchet.
func NextSkip(k int) int {
	i := skipIndex(k)
	if i < 0 {
		return SkipRatchet[0]
	}
	if i == len(SkipRatchet)-1 {
		return k
	}
	return SkipRatchet[i+1]
}

func skipIndex(k int) int {
	for i, v := range SkipRatchet {
		if v == k {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the defined levels.
func (l DistractorLevel) Valid() bool {
	return l.rank() >= 0
}

// Next returns the level above l. L3 is returned unchanged.
func (l DistractorLevel) Next() DistractorLevel {
	r := l.rank()
	if r < 0 {
		return DistractorL1
	}
	if r == len(DistractorLevels)-1 {
		return l
	}
	return DistractorLevels[r+1]
}

// Less reports whether l ranks below other.
func (l DistractorLevel) Less(other DistractorLevel) bool {
	return l.rank() < other.rank()
}

func (l DistractorLevel) rank() int {
	for i, v := range DistractorLevels {
		if v == l {
			return i
		}
	}
	return -1
}

// ParseDistractorLevel converts a persisted string into a DistractorLevel.
func ParseDistractorLevel(s string) (DistractorLevel, error) {
	l := DistractorLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown distractor level %q", s)
	}
	return l, nil
}
