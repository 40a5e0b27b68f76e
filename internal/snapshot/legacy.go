package snapshot

import (
	"sort"
	"strconv"
	"time"
)

// LegacySnapshot is the version 1 persisted shape. Each tube stored its
// stitches in a sparse map keyed by position, so positions could collide
// or leave gaps.
type LegacySnapshot struct {
	Version     int                   `json:"version"`
	ActiveTube  int                   `json:"activeTube"`
	CycleCount  int                   `json:"cycleCount"`
	TotalPoints int                   `json:"totalPoints"`
	LastUpdated string                `json:"lastUpdated,omitempty"`
	Tubes       map[string]LegacyTube `json:"tubes"`
}

// LegacyTube is one tube in the version 1 shape.
type LegacyTube struct {
	ThreadID  string                  `json:"threadId"`
	Positions map[string]LegacyStitch `json:"positions"`
}

// LegacyStitch is a stitch entry in the version 1 shape.
type LegacyStitch struct {
	StitchID        string `json:"stitchId"`
	SkipNumber      int    `json:"skipNumber"`
	DistractorLevel string `json:"distractorLevel"`
	TotalAttempts   int    `json:"totalAttempts,omitempty"`
	LastScore       int    `json:"lastScore,omitempty"`
	LastCompleted   string `json:"lastCompleted,omitempty"`
}

// MigrateLegacy converts a version 1 snapshot into the canonical form.
// Positions are sorted and compacted into contiguous slots. Gaps are
// closed; anything that cannot be ordered unambiguously is malformed.
func MigrateLegacy(old LegacySnapshot) (Snapshot, error) {
	s := Snapshot{
		Version:     FormatVersion,
		ActiveTube:  old.ActiveTube,
		CycleCount:  old.CycleCount,
		TotalPoints: old.TotalPoints,
	}
	if old.LastUpdated != "" {
		t, err := time.Parse(time.RFC3339, old.LastUpdated)
		if err != nil {
			return Snapshot{}, malformed("lastUpdated %q: not RFC3339", old.LastUpdated)
		}
		s.SavedAt = t
	}

	if len(old.Tubes) != 3 {
		return Snapshot{}, malformed("legacy snapshot has %d tubes, want 3", len(old.Tubes))
	}
	for n := 1; n <= 3; n++ {
		key := strconv.Itoa(n)
		lt, ok := old.Tubes[key]
		if !ok {
			return Snapshot{}, malformed("legacy snapshot missing tube %s", key)
		}
		tube, err := migrateTube(n, lt)
		if err != nil {
			return Snapshot{}, err
		}
		s.Tubes = append(s.Tubes, tube)
	}
	return s, nil
}

func migrateTube(n int, lt LegacyTube) (TubeState, error) {
	type entry struct {
		pos    int
		stitch LegacyStitch
	}
	entries := make([]entry, 0, len(lt.Positions))
	taken := make(map[int]string, len(lt.Positions))
	for key, st := range lt.Positions {
		pos, err := strconv.Atoi(key)
		if err != nil || pos < 0 {
			return TubeState{}, malformed("tube %d: position %q is not a non-negative integer", n, key)
		}
		if other, clash := taken[pos]; clash {
			return TubeState{}, malformed("tube %d: stitches %q and %q both at position %d", n, other, st.StitchID, pos)
		}
		// "01" and "+1" name the same slot as "1".
		if strconv.Itoa(pos) != key {
			return TubeState{}, malformed("tube %d: position %q is not in canonical form", n, key)
		}
		taken[pos] = st.StitchID
		entries = append(entries, entry{pos: pos, stitch: st})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	tube := TubeState{
		TubeNumber: n,
		ThreadID:   lt.ThreadID,
		Slots:      make([]SlotState, 0, len(entries)),
	}
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if prev, dup := seen[e.stitch.StitchID]; dup {
			return TubeState{}, malformed("tube %d: stitch %q at positions %d and %d", n, e.stitch.StitchID, prev, e.pos)
		}
		seen[e.stitch.StitchID] = e.pos

		slot := SlotState{
			StitchID:        e.stitch.StitchID,
			SkipNumber:      e.stitch.SkipNumber,
			DistractorLevel: e.stitch.DistractorLevel,
			TotalAttempts:   e.stitch.TotalAttempts,
			LastScore:       e.stitch.LastScore,
		}
		if e.stitch.LastCompleted != "" {
			t, err := time.Parse(time.RFC3339, e.stitch.LastCompleted)
			if err != nil {
				return TubeState{}, malformed("tube %d stitch %q: lastCompleted %q: not RFC3339", n, e.stitch.StitchID, e.stitch.LastCompleted)
			}
			slot.LastCompletedAt = &t
		}
		tube.Slots = append(tube.Slots, slot)
	}
	return tube, nil
}
