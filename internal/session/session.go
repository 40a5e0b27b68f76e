package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/spacedrep"
	"github.com/abhisek/triplehelix/internal/store"
)

// Options configures a Session. The zero value is usable: no persistence,
// no history, blocking concurrency, rotation after every completion.
type Options struct {
	// Snapshots receives a snapshot after every successful mutation.
	Snapshots store.SnapshotRepo

	// Events receives one record per graded attempt.
	Events store.EventRepo

	Observers []Observer
	Logger    *zap.Logger
	Metrics   *Metrics

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// RejectConcurrent makes overlapping calls fail with ErrBusy instead of
	// waiting for the in-flight call.
	RejectConcurrent bool

	// ManualRotation stops Complete from advancing the active tube.
	ManualRotation bool
}

// Session owns one learner's TubeSet and serializes every operation on it.
type Session struct {
	mu sync.Mutex

	id        string
	learnerID string
	ts        spacedrep.TubeSet
	seq       uint64
	fresh     bool

	snapshots        store.SnapshotRepo
	events           store.EventRepo
	observers        []Observer
	logger           *zap.Logger
	metrics          *Metrics
	now              func() time.Time
	rejectConcurrent bool
	manualRotation   bool
}

// Outcome is the result of a successful Complete.
type Outcome struct {
	Completion  spacedrep.Completion
	Rotated     bool
	ActiveTube  spacedrep.TubeNumber
	CycleCount  int
	TotalPoints int
	Snapshot    snapshot.Snapshot
}

// New creates a session around ts. seq is the sequence of the snapshot ts
// was decoded from, or 0 for a fresh set.
func New(learnerID string, ts spacedrep.TubeSet, seq uint64, opts Options) (*Session, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("%w: empty learner id", spacedrep.ErrValidation)
	}
	if err := ts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tube set: %w", err)
	}

	s := &Session{
		id:               uuid.NewString(),
		learnerID:        learnerID,
		ts:               ts.Clone(),
		seq:              seq,
		snapshots:        opts.Snapshots,
		events:           opts.Events,
		observers:        append([]Observer(nil), opts.Observers...),
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		now:              opts.Now,
		rejectConcurrent: opts.RejectConcurrent,
		manualRotation:   opts.ManualRotation,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = s.logger.With(zap.String("learner", learnerID), zap.String("session", s.id))
	return s, nil
}

// ID returns the unique id of this session.
func (s *Session) ID() string { return s.id }

// LearnerID returns the learner the session belongs to.
func (s *Session) LearnerID() string { return s.learnerID }

// Fresh reports whether the TubeSet came from a new content assignment
// rather than a stored snapshot.
func (s *Session) Fresh() bool { return s.fresh }

// TubeSet returns a copy of the current state.
func (s *Session) TubeSet() spacedrep.TubeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ts.Clone()
}

// Snapshot returns the current state in persisted form, stamped with the
// latest sequence.
func (s *Session) Snapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamp(s.clock())
}

// Sequence returns the sequence of the latest mutation.
func (s *Session) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Complete grades the active stitch of the active tube, repositions it,
// and (unless ManualRotation is set) rotates to the next tube. The two steps
// commit together or not at all.
//
// A non-nil error with a usable Outcome is always a *StorageError.
func (s *Session) Complete(ctx context.Context, stitchID string, score, total int) (Outcome, error) {
	if err := s.acquire(); err != nil {
		return Outcome{}, err
	}

	now := s.clock()
	prev := s.ts
	tube, c, err := spacedrep.Complete(prev.Active(), stitchID, score, total, now)
	if err != nil {
		s.mu.Unlock()
		s.metrics.rejected(err)
		s.logger.Debug("completion rejected", zap.String("stitch", stitchID), zap.Error(err))
		return Outcome{}, err
	}

	next := prev.Clone()
	next.Tubes[prev.ActiveTube-1] = tube
	next.TotalPoints += score

	rotated := false
	if !s.manualRotation {
		next, err = spacedrep.Cycle(next)
		if err != nil {
			s.mu.Unlock()
			s.metrics.rejected(err)
			s.logger.Warn("rotation after completion failed", zap.String("stitch", stitchID), zap.Error(err))
			return Outcome{}, err
		}
		rotated = true
	}

	snap := s.commitAndUnlock(next, now)

	s.metrics.completion(c.Perfect)
	if rotated {
		s.metrics.rotation("cycle", next.CycleCount > prev.CycleCount)
	}
	s.logger.Debug("stitch completed",
		zap.String("stitch", c.StitchID),
		zap.Int("tube", int(c.Tube)),
		zap.Int("score", score),
		zap.Int("total", total),
		zap.Bool("perfect", c.Perfect),
		zap.Int("skip", c.SkipAfter),
		zap.String("distractor", string(c.DistractorAfter)),
		zap.Int("slot", c.Slot),
		zap.Uint64("sequence", snap.Sequence),
	)

	out := Outcome{
		Completion:  c,
		Rotated:     rotated,
		ActiveTube:  next.ActiveTube,
		CycleCount:  next.CycleCount,
		TotalPoints: next.TotalPoints,
		Snapshot:    snap,
	}

	var errs []error
	serr := &StorageError{Op: "complete", Sequence: snap.Sequence}
	if event, err := s.appendHistory(ctx, c); err != nil {
		errs = append(errs, err)
		serr.History = append(serr.History, event)
	}
	if err := s.save(ctx, snap); err != nil {
		errs = append(errs, err)
		serr.SaveFailed = true
	}
	if len(errs) > 0 {
		serr.Err = errors.Join(errs...)
		return out, serr
	}
	return out, nil
}

// Cycle advances the active tube 1→2→3→1.
func (s *Session) Cycle(ctx context.Context) (snapshot.Snapshot, error) {
	return s.rotate(ctx, "cycle", spacedrep.Cycle)
}

// Select makes tube n active without counting a cycle.
func (s *Session) Select(ctx context.Context, n spacedrep.TubeNumber) (snapshot.Snapshot, error) {
	return s.rotate(ctx, "select", func(ts spacedrep.TubeSet) (spacedrep.TubeSet, error) {
		return spacedrep.Select(ts, n)
	})
}

func (s *Session) rotate(ctx context.Context, kind string, fn func(spacedrep.TubeSet) (spacedrep.TubeSet, error)) (snapshot.Snapshot, error) {
	if err := s.acquire(); err != nil {
		return snapshot.Snapshot{}, err
	}

	prev := s.ts
	next, err := fn(prev)
	if err != nil {
		s.mu.Unlock()
		s.metrics.rejected(err)
		return snapshot.Snapshot{}, err
	}
	snap := s.commitAndUnlock(next, s.clock())

	s.metrics.rotation(kind, next.CycleCount > prev.CycleCount)
	s.logger.Debug("active tube changed",
		zap.String("kind", kind),
		zap.Int("from", int(prev.ActiveTube)),
		zap.Int("to", int(next.ActiveTube)),
		zap.Int("cycles", next.CycleCount),
	)

	if err := s.save(ctx, snap); err != nil {
		return snap, &StorageError{Op: kind, Sequence: snap.Sequence, Err: err, SaveFailed: true}
	}
	return snap, nil
}

// Persist writes the current state as a checkpoint. Re-sending an already
// stored sequence is harmless.
func (s *Session) Persist(ctx context.Context) error {
	snap := s.Snapshot()
	if err := s.save(ctx, snap); err != nil {
		return &StorageError{Op: "persist", Sequence: snap.Sequence, Err: err, SaveFailed: true}
	}
	return nil
}

// AddObserver registers o for subsequent mutations.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// clock returns the current time in UTC without a monotonic reading, so
// timestamps survive a persistence round trip unchanged.
func (s *Session) clock() time.Time {
	return s.now().UTC().Round(0)
}

func (s *Session) acquire() error {
	if !s.rejectConcurrent {
		s.mu.Lock()
		return nil
	}
	if !s.mu.TryLock() {
		s.metrics.busy()
		return ErrBusy
	}
	return nil
}

// commitAndUnlock installs next, bumps the sequence, notifies observers and
// releases s.mu, which must be held on entry. The lock is released even if
// an observer panics.
func (s *Session) commitAndUnlock(next spacedrep.TubeSet, now time.Time) snapshot.Snapshot {
	defer s.mu.Unlock()

	prevActive := s.ts.ActiveTube
	s.ts = next
	s.seq = nextSequence(s.seq, now)

	snap := s.stamp(now)
	for _, o := range s.observers {
		o.OnTubeSetChanged(snap)
		if next.ActiveTube != prevActive {
			o.OnActiveTubeChanged(next.ActiveTube)
		}
	}
	return snap
}

// stamp encodes the current state. Must be called with s.mu held.
func (s *Session) stamp(now time.Time) snapshot.Snapshot {
	snap := snapshot.Encode(s.ts)
	snap.Sequence = s.seq
	snap.SavedAt = now
	return snap
}

// nextSequence is strictly greater than prev and never behind the wall
// clock, so a session started over an unreadable snapshot still outranks it.
func nextSequence(prev uint64, now time.Time) uint64 {
	next := prev + 1
	if clock := now.UnixNano(); clock > 0 && uint64(clock) > next {
		next = uint64(clock)
	}
	return next
}

func (s *Session) save(ctx context.Context, snap snapshot.Snapshot) error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Save(ctx, s.learnerID, snap); err != nil {
		s.metrics.storageFailure("save")
		s.logger.Warn("snapshot save failed", zap.Uint64("sequence", snap.Sequence), zap.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// appendHistory records c. On failure the event is returned so the caller
// can queue it.
func (s *Session) appendHistory(ctx context.Context, c spacedrep.Completion) (store.CompletionEventData, error) {
	event := store.CompletionEventData{
		LearnerID:        s.learnerID,
		SessionID:        s.id,
		TubeNumber:       int(c.Tube),
		StitchID:         c.StitchID,
		Score:            c.Score,
		Total:            c.Total,
		Perfect:          c.Perfect,
		SkipBefore:       c.SkipBefore,
		SkipAfter:        c.SkipAfter,
		DistractorBefore: string(c.DistractorBefore),
		DistractorAfter:  string(c.DistractorAfter),
		Slot:             c.Slot,
		Timestamp:        c.CompletedAt,
	}
	if s.events == nil {
		return event, nil
	}
	if err := s.events.AppendCompletion(ctx, event); err != nil {
		s.metrics.storageFailure("history")
		s.logger.Warn("history append failed", zap.String("stitch", c.StitchID), zap.Error(err))
		return event, fmt.Errorf("append history: %w", err)
	}
	return event, nil
}
