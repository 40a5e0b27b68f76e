package content

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

const smallCatalog = `
version: 1
threads:
  - id: alpha
    tube: 1
    stitches:
      - id: a1
        title: A one
        items: [{prompt: "1+1", answer: "2"}]
      - id: a2
        title: A two
        items: [{prompt: "2+2", answer: "4"}]
  - id: beta
    tube: 2
    stitches:
      - id: b1
        title: B one
        items: [{prompt: "3+3", answer: "6"}]
  - id: gamma
    tube: 3
    stitches:
      - id: c1
        title: C one
        items: [{prompt: "4+4", answer: "8"}]
`

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 0)

	ts, err := NewAssigner(c).Assign()
	require.NoError(t, err)
	require.NoError(t, ts.Validate())
	for _, tube := range ts.Tubes {
		assert.Greater(t, tube.Len(), 0, "tube %d empty", tube.Number)
		assert.NotEmpty(t, tube.ThreadID)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(smallCatalog))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())

	s, err := c.Stitch("a2")
	require.NoError(t, err)
	assert.Equal(t, "A two", s.Title)
	require.Len(t, s.Items, 1)
	assert.True(t, s.Items[0].Correct(" 4 "))
	assert.False(t, s.Items[0].Correct("5"))

	th, ok := c.Thread(spacedrep.Tube2)
	require.True(t, ok)
	assert.Equal(t, "beta", th.ID)

	_, ok = c.Thread(0)
	assert.False(t, ok)

	_, err = c.Stitch("zz")
	assert.ErrorIs(t, err, ErrUnknownStitch)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"not yaml", "{{{", "unmarshal catalog"},
		{"bad version", "version: 7\nthreads: []", "unsupported catalog version 7"},
		{"two threads", `
version: 1
threads:
  - {id: a, tube: 1, stitches: []}
  - {id: b, tube: 2, stitches: []}
`, "invalid catalog"},
		{"tube claimed twice", `
version: 1
threads:
  - {id: a, tube: 1, stitches: []}
  - {id: b, tube: 1, stitches: []}
  - {id: c, tube: 3, stitches: []}
`, "tube 1 claimed by more than one thread"},
		{"tube out of range", `
version: 1
threads:
  - {id: a, tube: 1, stitches: []}
  - {id: b, tube: 2, stitches: []}
  - {id: c, tube: 4, stitches: []}
`, "invalid catalog"},
		{"duplicate stitch", `
version: 1
threads:
  - id: a
    tube: 1
    stitches: [{id: s, title: S, items: [{prompt: p, answer: q}]}]
  - id: b
    tube: 2
    stitches: [{id: s, title: S, items: [{prompt: p, answer: q}]}]
  - {id: c, tube: 3, stitches: []}
`, `stitch "s" in threads "a" and "b"`},
		{"stitch without items", `
version: 1
threads:
  - id: a
    tube: 1
    stitches: [{id: s, title: S, items: []}]
  - {id: b, tube: 2, stitches: []}
  - {id: c, tube: 3, stitches: []}
`, "invalid catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveStitchMetadata(t *testing.T) {
	c, err := Parse([]byte(smallCatalog))
	require.NoError(t, err)

	md, err := c.ResolveStitchMetadata("a2")
	require.NoError(t, err)
	assert.Equal(t, Metadata{StitchID: "a2", ThreadID: "alpha", Tube: spacedrep.Tube1, Title: "A two", Order: 1}, md)

	_, err = c.ResolveStitchMetadata("nope")
	assert.ErrorIs(t, err, ErrUnknownStitch)
}

func TestAssign(t *testing.T) {
	c, err := Parse([]byte(smallCatalog))
	require.NoError(t, err)

	ts, err := NewAssigner(c).Assign()
	require.NoError(t, err)

	assert.Equal(t, spacedrep.Tube1, ts.ActiveTube)
	assert.Zero(t, ts.CycleCount)
	assert.Zero(t, ts.TotalPoints)

	t1 := ts.Tube(spacedrep.Tube1)
	assert.Equal(t, "alpha", t1.ThreadID)
	require.Equal(t, 2, t1.Len())
	assert.Equal(t, "a1", t1.Slots[0].ID)
	assert.Equal(t, "a2", t1.Slots[1].ID)
	for _, s := range t1.Slots {
		assert.Equal(t, spacedrep.MinSkip, s.SkipNumber)
		assert.Equal(t, spacedrep.DistractorL1, s.DistractorLevel)
	}
	assert.Equal(t, "gamma", ts.Tube(spacedrep.Tube3).ThreadID)
}

type fakeProvider map[string]Metadata

func (f fakeProvider) ResolveStitchMetadata(id string) (Metadata, error) {
	md, ok := f[id]
	if !ok {
		return Metadata{}, errors.New("not found: " + id)
	}
	return md, nil
}

func TestAssign_Errors(t *testing.T) {
	provider := fakeProvider{
		"x1": {StitchID: "x1", ThreadID: "x", Tube: spacedrep.Tube1},
		"x2": {StitchID: "x2", ThreadID: "x", Tube: spacedrep.Tube1},
		"y1": {StitchID: "y1", ThreadID: "y", Tube: spacedrep.Tube2},
		"z1": {StitchID: "z1", ThreadID: "z"},
	}

	tests := []struct {
		name string
		plan Plan
		want string
	}{
		{"unknown stitch", Plan{{"x1", "q"}, {"y1"}, {"z1"}}, "not found: q"},
		{"wrong tube", Plan{{"x1"}, {"x2"}, {"z1"}}, `stitch "x2" belongs to tube 1`},
		{"mixed threads", Plan{{"x1", "z1"}, {"y1"}, {}}, `stitch "z1" is in thread "z"`},
		{"duplicate in tube", Plan{{"x1", "x1"}, {"y1"}, {"z1"}}, "x1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Assigner{Provider: provider, Plan: tt.plan}).Assign()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := (&Assigner{Provider: provider, Plan: Plan{{}, {"y1"}, {"z1"}}}).Assign()
	assert.ErrorIs(t, err, spacedrep.ErrEmptyTube)
}
