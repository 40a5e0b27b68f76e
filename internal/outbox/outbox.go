// Package outbox is a local durable queue for snapshots whose save failed.
// Entries survive restarts and are replayed against the snapshot repository
// by Drain. Replays are safe because the repository ignores snapshots that
// are not newer than what it already holds.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/store"
)

const keyPrefix = "snap/"

// seqDigits is wide enough for any uint64 so keys sort by sequence.
const seqDigits = 20

// Config configures the queue database.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps the queue in memory only. Used by tests.
	InMemory bool

	Logger *zap.Logger

	// Parallelism bounds how many learners are drained at once. Default: 4.
	Parallelism int
}

// Entry identifies one queued snapshot.
type Entry struct {
	LearnerID string
	Sequence  uint64
}

// Outbox is safe for concurrent use.
type Outbox struct {
	db          *badger.DB
	logger      *zap.Logger
	parallelism int
}

// Open opens or creates the queue.
func Open(cfg Config) (*Outbox, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("outbox directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create outbox directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Outbox{db: db, logger: logger, parallelism: parallelism}, nil
}

// Close releases the database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue stores snap for later delivery. Older queued snapshots of the same
// learner are superseded and removed in the same transaction.
func (o *Outbox) Enqueue(learnerID string, snap snapshot.Snapshot) error {
	if learnerID == "" {
		return errors.New("outbox: empty learner id")
	}
	raw, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}

	return o.db.Update(func(txn *badger.Txn) error {
		prefix := learnerPrefix(learnerID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			e, ok := parseKey(it.Item().Key())
			if ok && e.LearnerID == learnerID && e.Sequence < snap.Sequence {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Set(entryKey(learnerID, snap.Sequence), raw)
	})
}

// Remove discards every queued snapshot and completion event of the learner.
func (o *Outbox) Remove(learnerID string) error {
	return o.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		for _, prefix := range []string{keyPrefix, historyPrefix} {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix + learnerID + "/")})
			for it.Rewind(); it.Valid(); it.Next() {
				if e, ok := parsePrefixedKey(it.Item().Key(), prefix); ok && e.LearnerID == learnerID {
					keys = append(keys, it.Item().KeyCopy(nil))
				}
			}
			it.Close()
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pending lists queued entries in key order.
func (o *Outbox) Pending() ([]Entry, error) {
	var out []Entry
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if e, ok := parseKey(it.Item().Key()); ok {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// DrainResult summarizes a Drain.
type DrainResult struct {
	Delivered int
	// Dropped counts entries that could never be delivered because they no
	// longer decode.
	Dropped int
	// Failed maps learners whose delivery failed to the error. Their entries
	// stay queued.
	Failed map[string]error
}

// Drain delivers queued snapshots to repo, learners in parallel, each
// learner's entries oldest first. Delivered entries are removed. A failed
// save leaves the learner's remaining entries queued; other learners are
// unaffected. The returned error is non-nil only for queue failures or
// cancellation.
func (o *Outbox) Drain(ctx context.Context, repo store.SnapshotRepo) (DrainResult, error) {
	res := DrainResult{Failed: map[string]error{}}

	pending, err := o.Pending()
	if err != nil {
		return res, fmt.Errorf("outbox: list pending: %w", err)
	}
	byLearner := map[string][]Entry{}
	var order []string
	for _, e := range pending {
		if _, seen := byLearner[e.LearnerID]; !seen {
			order = append(order, e.LearnerID)
		}
		byLearner[e.LearnerID] = append(byLearner[e.LearnerID], e)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for _, learnerID := range order {
		entries := byLearner[learnerID]
		g.Go(func() error {
			delivered, dropped, err := o.drainLearner(gctx, repo, entries)
			mu.Lock()
			defer mu.Unlock()
			res.Delivered += delivered
			res.Dropped += dropped
			if err == nil {
				return nil
			}
			var qe *queueError
			if errors.As(err, &qe) {
				return err
			}
			res.Failed[learnerID] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	o.logger.Debug("outbox drained",
		zap.Int("delivered", res.Delivered),
		zap.Int("dropped", res.Dropped),
		zap.Int("failed_learners", len(res.Failed)),
	)
	return res, nil
}

// queueError marks failures of the queue itself, which abort the drain.
type queueError struct{ err error }

func (e *queueError) Error() string { return "outbox: " + e.err.Error() }
func (e *queueError) Unwrap() error { return e.err }

func (o *Outbox) drainLearner(ctx context.Context, repo store.SnapshotRepo, entries []Entry) (delivered, dropped int, err error) {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, dropped, &queueError{err}
		}

		key := entryKey(e.LearnerID, e.Sequence)
		var raw []byte
		err := o.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			raw, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Superseded by a concurrent Enqueue.
			continue
		}
		if err != nil {
			return delivered, dropped, &queueError{err}
		}

		snap, err := snapshot.Unmarshal(raw)
		if err != nil {
			o.logger.Warn("dropping undecodable outbox entry",
				zap.String("learner", e.LearnerID),
				zap.Uint64("sequence", e.Sequence),
				zap.Error(err),
			)
			if err := o.delete(key); err != nil {
				return delivered, dropped, &queueError{err}
			}
			dropped++
			continue
		}

		if err := repo.Save(ctx, e.LearnerID, snap); err != nil {
			o.logger.Warn("outbox delivery failed",
				zap.String("learner", e.LearnerID),
				zap.Uint64("sequence", e.Sequence),
				zap.Error(err),
			)
			return delivered, dropped, fmt.Errorf("deliver sequence %d: %w", e.Sequence, err)
		}
		if err := o.delete(key); err != nil {
			return delivered, dropped, &queueError{err}
		}
		delivered++
	}
	return delivered, dropped, nil
}

func (o *Outbox) delete(key []byte) error {
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func learnerPrefix(learnerID string) []byte {
	return []byte(keyPrefix + learnerID + "/")
}

func entryKey(learnerID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%0*d", keyPrefix, learnerID, seqDigits, seq))
}

// parseKey splits snap/<learner>/<seq>. Learner ids may contain '/'.
func parseKey(key []byte) (Entry, bool) {
	return parsePrefixedKey(key, keyPrefix)
}

func parsePrefixedKey(key []byte, prefix string) (Entry, bool) {
	s := strings.TrimPrefix(string(key), prefix)
	if len(s) == len(key) || len(s) < seqDigits+2 {
		return Entry{}, false
	}
	sep := len(s) - seqDigits - 1
	if s[sep] != '/' {
		return Entry{}, false
	}
	seq, err := strconv.ParseUint(s[sep+1:], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{LearnerID: s[:sep], Sequence: seq}, true
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}
