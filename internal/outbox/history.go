package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/abhisek/triplehelix/internal/store"
)

const historyPrefix = "hist/"

func historyKey(learnerID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%0*d", historyPrefix, learnerID, seqDigits, seq))
}

// EnqueueCompletion stores a completion event whose append failed. seq is
// the sequence of the mutation that produced it; queueing the same event
// twice keeps one copy.
func (o *Outbox) EnqueueCompletion(seq uint64, event store.CompletionEventData) error {
	if event.LearnerID == "" {
		return errors.New("outbox: empty learner id")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outbox: encode completion: %w", err)
	}
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(event.LearnerID, seq), raw)
	})
}

// PendingHistory lists queued completion events in key order.
func (o *Outbox) PendingHistory() ([]Entry, error) {
	var out []Entry
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(historyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if e, ok := parsePrefixedKey(it.Item().Key(), historyPrefix); ok {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// DrainHistory appends queued completion events to events, oldest first
// per learner. A failed append stops that learner's replay so the history
// keeps its order; other learners continue.
func (o *Outbox) DrainHistory(ctx context.Context, events store.EventRepo) (DrainResult, error) {
	res := DrainResult{Failed: map[string]error{}}

	pending, err := o.PendingHistory()
	if err != nil {
		return res, fmt.Errorf("outbox: list pending history: %w", err)
	}

	blocked := map[string]bool{}
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if blocked[e.LearnerID] {
			continue
		}

		key := historyKey(e.LearnerID, e.Sequence)
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
			continue
		}
		if err != nil {
			return res, fmt.Errorf("outbox: %w", err)
		}

		var event store.CompletionEventData
		if err := json.Unmarshal(raw, &event); err != nil {
			o.logger.Warn("dropping undecodable history entry",
				zap.String("learner", e.LearnerID),
				zap.Uint64("sequence", e.Sequence),
				zap.Error(err),
			)
			if err := o.delete(key); err != nil {
				return res, fmt.Errorf("outbox: %w", err)
			}
			res.Dropped++
			continue
		}

		if err := events.AppendCompletion(ctx, event); err != nil {
			blocked[e.LearnerID] = true
			res.Failed[e.LearnerID] = fmt.Errorf("deliver completion %d: %w", e.Sequence, err)
			continue
		}
		if err := o.delete(key); err != nil {
			return res, fmt.Errorf("outbox: %w", err)
		}
		res.Delivered++
	}
	return res, nil
}
