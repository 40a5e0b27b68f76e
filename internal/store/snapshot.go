package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/triplehelix/internal/snapshot"
)

const snapshotsTable = "tube_snapshots"

// snapshotRepo implements SnapshotRepo on the tube_snapshots table.
type snapshotRepo struct {
	drv *entsql.Driver
}

func (r *snapshotRepo) Save(ctx context.Context, learnerID string, snap snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}

	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}

	stored, err := maxSequence(ctx, tx, learnerID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if stored.Valid && uint64(stored.Int64) >= snap.Sequence {
		// Already have this write or a newer one.
		return tx.Commit()
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(snapshotsTable).
		Columns("learner_id", "sequence", "saved_at", "data").
		Values(learnerID, int64(snap.Sequence), savedAt.UnixNano(), string(data)).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		tx.Rollback()
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func maxSequence(ctx context.Context, q dialect.ExecQuerier, learnerID string) (sql.NullInt64, error) {
	var stored sql.NullInt64
	query, args := entsql.Dialect(dialect.SQLite).
		Select(entsql.Max("sequence")).
		From(entsql.Table(snapshotsTable)).
		Where(entsql.EQ("learner_id", learnerID)).
		Query()

	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return stored, fmt.Errorf("query stored sequence: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&stored); err != nil {
			return stored, fmt.Errorf("scan stored sequence: %w", err)
		}
	}
	return stored, rows.Err()
}

func (r *snapshotRepo) Latest(ctx context.Context, learnerID string) (*snapshot.Snapshot, error) {
	query, args := entsql.Dialect(dialect.SQLite).
		Select("data").
		From(entsql.Table(snapshotsTable)).
		Where(entsql.EQ("learner_id", learnerID)).
		OrderBy(entsql.Desc("sequence")).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query latest snapshot: %w", err)
		}
		return nil, fmt.Errorf("learner %q: %w", learnerID, ErrNotFound)
	}
	var data string
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	snap, err := snapshot.Unmarshal([]byte(data))
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *snapshotRepo) Prune(ctx context.Context, learnerID string, keep int) error {
	// Find the sequence threshold: the keep-th most recent snapshot.
	query, args := entsql.Dialect(dialect.SQLite).
		Select("sequence").
		From(entsql.Table(snapshotsTable)).
		Where(entsql.EQ("learner_id", learnerID)).
		OrderBy(entsql.Desc("sequence")).
		Offset(keep).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return fmt.Errorf("query snapshots for prune: %w", err)
	}
	var threshold int64
	found := rows.Next()
	if found {
		if err := rows.Scan(&threshold); err != nil {
			rows.Close()
			return fmt.Errorf("scan prune threshold: %w", err)
		}
	}
	rows.Close()
	if !found {
		return nil // fewer than keep snapshots exist
	}

	query, args = entsql.Dialect(dialect.SQLite).
		Delete(snapshotsTable).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.LTE("sequence", threshold),
		)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

func (r *snapshotRepo) Delete(ctx context.Context, learnerID string) error {
	query, args := entsql.Dialect(dialect.SQLite).
		Delete(snapshotsTable).
		Where(entsql.EQ("learner_id", learnerID)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}
