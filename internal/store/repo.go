package store

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/triplehelix/internal/snapshot"
)

// ErrNotFound is returned by SnapshotRepo.Latest when a learner has no
// stored snapshot.
var ErrNotFound = errors.New("snapshot not found")

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit  int       // max results (0 = unlimited)
	After  int64     // sequence > After
	Before int64     // sequence < Before
	From   time.Time // timestamp >= From
	To     time.Time // timestamp <= To
}

// SnapshotRepo persists learner TubeSet snapshots. Writes carry the
// snapshot's Sequence; a write whose sequence is not newer than what is
// already stored for the learner is acknowledged and ignored, so retries
// and late arrivals never roll state back.
type SnapshotRepo interface {
	// Save stores snap for the learner unless a newer one is present.
	Save(ctx context.Context, learnerID string, snap snapshot.Snapshot) error

	// Latest returns the newest snapshot for the learner, or ErrNotFound.
	Latest(ctx context.Context, learnerID string) (*snapshot.Snapshot, error)

	// Prune deletes all but the keep most recent snapshots of the learner.
	Prune(ctx context.Context, learnerID string, keep int) error

	// Delete removes every snapshot of the learner.
	Delete(ctx context.Context, learnerID string) error
}

// CompletionEventData captures one graded attempt for the history log.
type CompletionEventData struct {
	LearnerID        string
	SessionID        string
	TubeNumber       int
	StitchID         string
	Score            int
	Total            int
	Perfect          bool
	SkipBefore       int
	SkipAfter        int
	DistractorBefore string
	DistractorAfter  string
	Slot             int
	Timestamp        time.Time
}

// CompletionEventRecord is a stored completion event.
type CompletionEventRecord struct {
	ID       string
	Sequence int64
	CompletionEventData
}

// EventRepo provides append and query access to the completion history.
// The history is written for audit and analytics only; scheduling never
// reads it back.
type EventRepo interface {
	// AppendCompletion records a graded attempt.
	AppendCompletion(ctx context.Context, data CompletionEventData) error

	// QueryCompletions returns a learner's events, newest first.
	QueryCompletions(ctx context.Context, learnerID string, opts QueryOpts) ([]CompletionEventRecord, error)

	// DeleteCompletions removes a learner's history.
	DeleteCompletions(ctx context.Context, learnerID string) error
}
