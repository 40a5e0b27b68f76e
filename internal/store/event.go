package store

import (
	"context"
	"fmt"
	"sync"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const countersTable = "event_counters"

// sequenceCounter hands out gap-free ordering numbers for one named event
// stream. The value lives in the database so a restarted CLI continues
// where the previous run stopped.
type sequenceCounter struct {
	mu     sync.Mutex
	drv    *entsql.Driver
	stream string
}

func newSequenceCounter(ctx context.Context, drv *entsql.Driver, stream string) (*sequenceCounter, error) {
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(countersTable).
		Columns("stream", "next_val").
		Values(stream, 1).
		OnConflict(entsql.DoNothing()).
		Query()
	if err := drv.Exec(ctx, query, args, nil); err != nil {
		return nil, fmt.Errorf("seed %s counter: %w", stream, err)
	}
	return &sequenceCounter{drv: drv, stream: stream}, nil
}

// Next returns the next number of the stream. The increment and the read
// are one statement.
func (sc *sequenceCounter) Next(ctx context.Context) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	rows := &entsql.Rows{}
	err := sc.drv.Query(ctx,
		`UPDATE `+countersTable+` SET next_val = next_val + 1 WHERE stream = ? RETURNING next_val - 1`,
		[]any{sc.stream}, rows)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", sc.stream, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("counter %s missing", sc.stream)
	}
	var seq int64
	if err := rows.Scan(&seq); err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", sc.stream, err)
	}
	return seq, nil
}
