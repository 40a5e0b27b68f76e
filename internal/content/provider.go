package content

import (
	"fmt"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

// Metadata is what the scheduler needs to know about a stitch when placing
// it into a tube.
type Metadata struct {
	StitchID string
	ThreadID string
	Tube     spacedrep.TubeNumber
	Title    string
	Order    int
}

// Provider resolves stitch metadata. It is consulted only while building a
// fresh TubeSet.
type Provider interface {
	ResolveStitchMetadata(stitchID string) (Metadata, error)
}

// ResolveStitchMetadata implements Provider.
func (c *Catalog) ResolveStitchMetadata(stitchID string) (Metadata, error) {
	e, ok := c.byID[stitchID]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrUnknownStitch, stitchID)
	}
	return Metadata{
		StitchID: e.stitch.ID,
		ThreadID: e.thread.ID,
		Tube:     spacedrep.TubeNumber(e.thread.Tube),
		Title:    e.stitch.Title,
		Order:    e.order,
	}, nil
}

// Plan lists, per tube, the stitch ids of a fresh assignment in slot order.
type Plan [spacedrep.NumTubes][]string

// DefaultPlan places every thread's stitches into its tube in catalog order.
func (c *Catalog) DefaultPlan() Plan {
	var p Plan
	for i, th := range c.threads {
		ids := make([]string, 0, len(th.Stitches))
		for _, s := range th.Stitches {
			ids = append(ids, s.ID)
		}
		p[i] = ids
	}
	return p
}

// Assigner builds fresh TubeSets from a Plan, resolving every stitch
// through a Provider.
type Assigner struct {
	Provider Provider
	Plan     Plan
}

// NewAssigner returns an assigner for the catalog's default plan.
func NewAssigner(c *Catalog) *Assigner {
	return &Assigner{Provider: c, Plan: c.DefaultPlan()}
}

// Assign resolves the plan into a TubeSet. Every stitch in a tube must
// belong to the thread bound to that tube; each starts at skip 1, level L1.
func (a *Assigner) Assign() (spacedrep.TubeSet, error) {
	tubes := make([]spacedrep.Tube, 0, spacedrep.NumTubes)
	for i, ids := range a.Plan {
		n := spacedrep.TubeNumber(i + 1)
		threadID := ""
		stitches := make([]spacedrep.Stitch, 0, len(ids))
		for _, id := range ids {
			md, err := a.Provider.ResolveStitchMetadata(id)
			if err != nil {
				return spacedrep.TubeSet{}, fmt.Errorf("tube %d: %w", n, err)
			}
			if md.Tube != 0 && md.Tube != n {
				return spacedrep.TubeSet{}, fmt.Errorf("tube %d: stitch %q belongs to tube %d", n, id, md.Tube)
			}
			if threadID == "" {
				threadID = md.ThreadID
			} else if md.ThreadID != threadID {
				return spacedrep.TubeSet{}, fmt.Errorf("tube %d: stitch %q is in thread %q, not %q", n, id, md.ThreadID, threadID)
			}
			stitches = append(stitches, spacedrep.NewStitch(id))
		}
		tubes = append(tubes, spacedrep.NewTube(n, threadID, stitches...))
	}
	ts, err := spacedrep.NewTubeSet(tubes...)
	if err != nil {
		return spacedrep.TubeSet{}, fmt.Errorf("assign: %w", err)
	}
	if ts.Active().Len() == 0 {
		return spacedrep.TubeSet{}, fmt.Errorf("assign: %w: tube 1", spacedrep.ErrEmptyTube)
	}
	return ts, nil
}
