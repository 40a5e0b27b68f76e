package outbox

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/abhisek/triplehelix/internal/config"
	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/store"
)

// RetryRepo is a decorator that retries failed snapshot saves with
// exponential backoff and jitter. Reads pass through untouched.
type RetryRepo struct {
	store.SnapshotRepo
	config config.RetryConfig

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps a SnapshotRepo with retry logic.
func WithRetry(repo store.SnapshotRepo, cfg config.RetryConfig) *RetryRepo {
	return &RetryRepo{SnapshotRepo: repo, config: cfg, sleep: sleepCtx}
}

func (r *RetryRepo) Save(ctx context.Context, learnerID string, snap snapshot.Snapshot) error {
	var lastErr error
	attempts := max(r.config.MaxAttempts, 1)

	for attempt := range attempts {
		err := r.SnapshotRepo.Save(ctx, learnerID, snap)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Last attempt: don't sleep, just return the error.
		if attempt == attempts-1 {
			break
		}
		if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}

// shouldRetry determines if a save error is transient.
func shouldRetry(err error) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Retrying the same bytes cannot fix a snapshot the store rejects.
	if errors.Is(err, snapshot.ErrMalformedSnapshot) {
		return false
	}
	return true
}

// backoff computes the wait duration for the given attempt.
func (r *RetryRepo) backoff(attempt int) time.Duration {
	mult := r.config.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := float64(r.config.InitialWait) * math.Pow(mult, float64(attempt))
	if r.config.MaxWait > 0 && wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
