package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/spacedrep"
	"github.com/abhisek/triplehelix/internal/store"
)

// Assigner builds the initial TubeSet for a learner with no saved state.
type Assigner interface {
	Assign() (spacedrep.TubeSet, error)
}

// Open restores the learner's latest snapshot, or starts from a fresh
// assignment when none is stored. A stored snapshot that cannot be decoded
// is reported as snapshot.ErrMalformedSnapshot and never silently replaced;
// the caller decides whether to call Start instead.
func Open(ctx context.Context, learnerID string, assigner Assigner, opts Options) (*Session, error) {
	if opts.Snapshots == nil {
		return Start(learnerID, assigner, opts)
	}

	snap, err := opts.Snapshots.Latest(ctx, learnerID)
	if errors.Is(err, store.ErrNotFound) {
		return Start(learnerID, assigner, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	ts, err := snapshot.Decode(*snap)
	if err != nil {
		return nil, fmt.Errorf("restore learner %s: %w", learnerID, err)
	}

	s, err := New(learnerID, ts, snap.Sequence, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("session restored",
		zap.Uint64("sequence", snap.Sequence),
		zap.Int("active_tube", snap.ActiveTube),
		zap.Int("cycles", snap.CycleCount),
	)
	return s, nil
}

// Start creates a session over a fresh assignment, ignoring anything stored.
// Its first mutation outranks any earlier snapshot of the learner.
func Start(learnerID string, assigner Assigner, opts Options) (*Session, error) {
	if assigner == nil {
		return nil, errors.New("no content assigner configured")
	}
	ts, err := assigner.Assign()
	if err != nil {
		return nil, fmt.Errorf("assign content: %w", err)
	}
	s, err := New(learnerID, ts, 0, opts)
	if err != nil {
		return nil, err
	}
	s.fresh = true
	s.logger.Debug("session started from fresh assignment")
	return s, nil
}
