package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

const completionsTable = "completion_events"

var completionColumns = []string{
	"id", "sequence", "timestamp", "learner_id", "session_id", "tube_number",
	"stitch_id", "score", "total", "perfect", "skip_before", "skip_after",
	"distractor_before", "distractor_after", "slot",
}

// eventRepo implements EventRepo.
type eventRepo struct {
	drv *entsql.Driver
	seq *sequenceCounter
}

func (r *eventRepo) AppendCompletion(ctx context.Context, data CompletionEventData) error {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	perfect := 0
	if data.Perfect {
		perfect = 1
	}

	query, args := entsql.Dialect(dialect.SQLite).
		Insert(completionsTable).
		Columns(completionColumns...).
		Values(
			uuid.NewString(), seqNum, ts.UTC().UnixNano(), data.LearnerID, data.SessionID, data.TubeNumber,
			data.StitchID, data.Score, data.Total, perfect, data.SkipBefore, data.SkipAfter,
			data.DistractorBefore, data.DistractorAfter, data.Slot,
		).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("save completion event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryCompletions(ctx context.Context, learnerID string, opts QueryOpts) ([]CompletionEventRecord, error) {
	sel := entsql.Dialect(dialect.SQLite).
		Select(completionColumns...).
		From(entsql.Table(completionsTable)).
		Where(entsql.EQ("learner_id", learnerID)).
		OrderBy(entsql.Desc("sequence"))

	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	if opts.After > 0 {
		sel = sel.Where(entsql.GT("sequence", opts.After))
	}
	if opts.Before > 0 {
		sel = sel.Where(entsql.LT("sequence", opts.Before))
	}
	if !opts.From.IsZero() {
		sel = sel.Where(entsql.GTE("timestamp", opts.From.UTC().UnixNano()))
	}
	if !opts.To.IsZero() {
		sel = sel.Where(entsql.LTE("timestamp", opts.To.UTC().UnixNano()))
	}

	query, args := sel.Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query completion events: %w", err)
	}
	defer rows.Close()

	var records []CompletionEventRecord
	for rows.Next() {
		var (
			rec     CompletionEventRecord
			nanos   int64
			perfect int
		)
		err := rows.Scan(
			&rec.ID, &rec.Sequence, &nanos, &rec.LearnerID, &rec.SessionID, &rec.TubeNumber,
			&rec.StitchID, &rec.Score, &rec.Total, &perfect, &rec.SkipBefore, &rec.SkipAfter,
			&rec.DistractorBefore, &rec.DistractorAfter, &rec.Slot,
		)
		if err != nil {
			return nil, fmt.Errorf("scan completion event: %w", err)
		}
		rec.Timestamp = time.Unix(0, nanos).UTC()
		rec.Perfect = perfect == 1
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion events: %w", err)
	}
	return records, nil
}

func (r *eventRepo) DeleteCompletions(ctx context.Context, learnerID string) error {
	query, args := entsql.Dialect(dialect.SQLite).
		Delete(completionsTable).
		Where(entsql.EQ("learner_id", learnerID)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("delete completion events: %w", err)
	}
	return nil
}
