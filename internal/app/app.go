// Package app wires configuration, storage, the outbox, the content catalog
// and metrics into the sessions the CLI commands operate on.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abhisek/triplehelix/internal/config"
	"github.com/abhisek/triplehelix/internal/content"
	"github.com/abhisek/triplehelix/internal/outbox"
	"github.com/abhisek/triplehelix/internal/session"
	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/store"
)

// Options holds the dependencies for App.
type Options struct {
	Config config.Config
	Logger *zap.Logger

	// Registry receives session metrics. Default: a private registry.
	Registry *prometheus.Registry
}

// App owns every long-lived resource of one CLI invocation.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *session.Metrics

	Store     *store.Store
	Snapshots store.SnapshotRepo
	Events    store.EventRepo
	Outbox    *outbox.Outbox
	Catalog   *content.Catalog
}

// Open opens the store, the outbox and the catalog named by the config.
func Open(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	metrics, err := session.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve DB path: %w", err)
		}
	} else if err := store.EnsureDir(dbPath); err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	outboxDir := cfg.OutboxDir
	if outboxDir == "" {
		outboxDir = filepath.Join(filepath.Dir(dbPath), "outbox")
	}
	ob, err := outbox.Open(outbox.Config{Dir: outboxDir, Logger: logger.Named("outbox")})
	if err != nil {
		st.Close()
		return nil, err
	}

	logger.Debug("app opened",
		zap.String("db", dbPath),
		zap.String("outbox", outboxDir),
		zap.Int("catalog_stitches", catalog.Len()),
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		Metrics:   metrics,
		Store:     st,
		Snapshots: outbox.WithRetry(st.SnapshotRepo(), cfg.Retry),
		Events:    st.EventRepo(),
		Outbox:    ob,
		Catalog:   catalog,
	}, nil
}

// LoadCatalog loads the catalog at path, or the embedded one when path is
// empty.
func LoadCatalog(path string) (*content.Catalog, error) {
	if path == "" {
		c, err := content.Default()
		if err != nil {
			return nil, fmt.Errorf("embedded catalog: %w", err)
		}
		return c, nil
	}
	return content.Load(path)
}

// Close releases the outbox and the store.
func (a *App) Close() error {
	return errors.Join(a.Outbox.Close(), a.Store.Close())
}

// SessionOptions returns session options derived from the config.
func (a *App) SessionOptions() session.Options {
	return session.Options{
		Snapshots:        a.Snapshots,
		Events:           a.Events,
		Logger:           a.Logger.Named("session"),
		Metrics:          a.Metrics,
		RejectConcurrent: a.Config.RejectConcurrent,
		ManualRotation:   !a.Config.RotateOnComplete,
	}
}

// OpenSession restores the learner's session. Queued snapshots are
// delivered first so the restored state is the newest one known. A stored
// snapshot that cannot be decoded is replaced by a fresh assignment and
// the decode error is returned as recovered.
func (a *App) OpenSession(ctx context.Context, learnerID string) (s *session.Session, recovered, err error) {
	if _, err := a.Outbox.Drain(ctx, a.Snapshots); err != nil {
		return nil, nil, fmt.Errorf("drain outbox: %w", err)
	}
	if _, err := a.Outbox.DrainHistory(ctx, a.Events); err != nil {
		return nil, nil, fmt.Errorf("drain outbox history: %w", err)
	}

	assigner := content.NewAssigner(a.Catalog)
	opts := a.SessionOptions()

	s, err = session.Open(ctx, learnerID, assigner, opts)
	if err == nil {
		return s, nil, nil
	}
	if !errors.Is(err, snapshot.ErrMalformedSnapshot) {
		return nil, nil, err
	}

	a.Logger.Warn("stored snapshot unreadable, starting fresh",
		zap.String("learner", learnerID), zap.Error(err))
	s, ferr := session.Start(learnerID, assigner, opts)
	if ferr != nil {
		return nil, nil, ferr
	}
	return s, err, nil
}

// Settle handles the error of a session operation. A StorageError means the
// in-memory result stands; whatever was not stored (the snapshot, history
// events) is queued for a later sync and nil is returned. Any other error
// is returned unchanged.
func (a *App) Settle(s *session.Session, err error) error {
	var serr *session.StorageError
	if err == nil || !errors.As(err, &serr) {
		return err
	}

	for _, event := range serr.History {
		if qerr := a.Outbox.EnqueueCompletion(serr.Sequence, event); qerr != nil {
			return errors.Join(err, fmt.Errorf("queue completion: %w", qerr))
		}
	}
	if !serr.SaveFailed {
		a.Logger.Warn("history append failed, event queued for sync",
			zap.String("learner", s.LearnerID()),
			zap.Uint64("sequence", serr.Sequence),
			zap.Error(err),
		)
		return nil
	}

	snap := s.Snapshot()
	if qerr := a.Outbox.Enqueue(s.LearnerID(), snap); qerr != nil {
		return errors.Join(err, fmt.Errorf("queue snapshot: %w", qerr))
	}
	a.Logger.Warn("save failed, snapshot queued for sync",
		zap.String("learner", s.LearnerID()),
		zap.Uint64("sequence", snap.Sequence),
		zap.Error(err),
	)
	return nil
}

// Checkpoint persists the session and prunes old snapshots. Persistence
// failures are queued like in Settle.
func (a *App) Checkpoint(ctx context.Context, s *session.Session) error {
	if err := s.Persist(ctx); err != nil {
		return a.Settle(s, err)
	}
	if err := a.Snapshots.Prune(ctx, s.LearnerID(), a.Config.SnapshotsToKeep); err != nil {
		a.Logger.Warn("prune failed", zap.String("learner", s.LearnerID()), zap.Error(err))
	}
	return nil
}
