package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/spacedrep"
	"github.com/abhisek/triplehelix/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// memSnapshots is an in-memory SnapshotRepo with the same stale-write
// semantics as the SQLite one.
type memSnapshots struct {
	mu      sync.Mutex
	byUser  map[string]snapshot.Snapshot
	saves   int
	saveErr error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{byUser: map[string]snapshot.Snapshot{}}
}

func (m *memSnapshots) Save(_ context.Context, learnerID string, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if cur, ok := m.byUser[learnerID]; ok && cur.Sequence >= snap.Sequence {
		return nil
	}
	m.byUser[learnerID] = snap
	return nil
}

func (m *memSnapshots) Latest(_ context.Context, learnerID string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.byUser[learnerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (m *memSnapshots) Prune(context.Context, string, int) error { return nil }

func (m *memSnapshots) Delete(_ context.Context, learnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUser, learnerID)
	return nil
}

type memEvents struct {
	mu        sync.Mutex
	events    []store.CompletionEventData
	appendErr error
}

func (m *memEvents) AppendCompletion(_ context.Context, data store.CompletionEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.events = append(m.events, data)
	return nil
}

func (m *memEvents) QueryCompletions(context.Context, string, store.QueryOpts) ([]store.CompletionEventRecord, error) {
	return nil, nil
}

func (m *memEvents) DeleteCompletions(context.Context, string) error { return nil }

type staticAssigner struct {
	ts  spacedrep.TubeSet
	err error
}

func (a staticAssigner) Assign() (spacedrep.TubeSet, error) { return a.ts, a.err }

func testSet(t *testing.T) spacedrep.TubeSet {
	t.Helper()
	ts, err := spacedrep.NewTubeSet(
		spacedrep.NewTube(spacedrep.Tube1, "t1",
			spacedrep.NewStitch("a1"), spacedrep.NewStitch("a2"),
			spacedrep.NewStitch("a3"), spacedrep.NewStitch("a4")),
		spacedrep.NewTube(spacedrep.Tube2, "t2", spacedrep.NewStitch("b1"), spacedrep.NewStitch("b2")),
		spacedrep.NewTube(spacedrep.Tube3, "t3", spacedrep.NewStitch("c1")),
	)
	require.NoError(t, err)
	return ts
}

func slotIDs(tube spacedrep.Tube) []string {
	out := make([]string, 0, tube.Len())
	for _, s := range tube.Slots {
		out = append(out, s.ID)
	}
	return out
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	s, err := New("learner-1", testSet(t), 0, opts)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New("", testSet(t), 0, Options{})
	assert.ErrorIs(t, err, spacedrep.ErrValidation)

	ts := testSet(t)
	ts.ActiveTube = 0
	_, err = New("learner-1", ts, 0, Options{})
	assert.ErrorIs(t, err, spacedrep.ErrInvalidTubeNumber)
}

func TestComplete_PerfectRepositionsAndRotates(t *testing.T) {
	snaps := newMemSnapshots()
	events := &memEvents{}
	s := newTestSession(t, Options{Snapshots: snaps, Events: events})

	out, err := s.Complete(context.Background(), "a1", 10, 10)
	require.NoError(t, err)

	assert.True(t, out.Completion.Perfect)
	assert.True(t, out.Rotated)
	assert.Equal(t, spacedrep.Tube2, out.ActiveTube)
	assert.Equal(t, 10, out.TotalPoints)
	assert.Equal(t, 0, out.CycleCount)

	ts := s.TubeSet()
	assert.Equal(t, []string{"a2", "a3", "a4", "a1"}, slotIDs(ts.Tube(spacedrep.Tube1)))
	assert.Equal(t, 3, ts.Tube(spacedrep.Tube1).Slots[3].SkipNumber)
	assert.Equal(t, spacedrep.DistractorL2, ts.Tube(spacedrep.Tube1).Slots[3].DistractorLevel)

	stored, err := snaps.Latest(context.Background(), "learner-1")
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.Sequence, stored.Sequence)
	assert.Equal(t, 2, stored.ActiveTube)

	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, "learner-1", ev.LearnerID)
	assert.Equal(t, s.ID(), ev.SessionID)
	assert.Equal(t, "a1", ev.StitchID)
	assert.Equal(t, 1, ev.TubeNumber)
	assert.Equal(t, 1, ev.SkipBefore)
	assert.Equal(t, 3, ev.SkipAfter)
	assert.Equal(t, "L1", ev.DistractorBefore)
	assert.Equal(t, "L2", ev.DistractorAfter)
	assert.Equal(t, 3, ev.Slot)
}

func TestComplete_ImperfectStaysActive(t *testing.T) {
	s := newTestSession(t, Options{ManualRotation: true})

	out, err := s.Complete(context.Background(), "a1", 7, 10)
	require.NoError(t, err)
	assert.False(t, out.Completion.Perfect)
	assert.False(t, out.Rotated)
	assert.Equal(t, spacedrep.Tube1, out.ActiveTube)
	assert.Equal(t, 7, out.TotalPoints)

	active, ok := s.TubeSet().ActiveStitch()
	require.True(t, ok)
	assert.Equal(t, "a1", active.ID)
	assert.Equal(t, 1, active.SkipNumber)
}

func TestComplete_RejectedInputLeavesStateUntouched(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestSession(t, Options{Snapshots: snaps})
	before := s.TubeSet()
	seq := s.Sequence()

	tests := []struct {
		name   string
		stitch string
		score  int
		total  int
		want   error
	}{
		{"zero total", "a1", 0, 0, spacedrep.ErrInvalidScore},
		{"score above total", "a1", 11, 10, spacedrep.ErrInvalidScore},
		{"negative score", "a1", -1, 10, spacedrep.ErrInvalidScore},
		{"not active", "a2", 10, 10, spacedrep.ErrNotActiveStitch},
		{"unknown stitch", "zz", 10, 10, spacedrep.ErrNotActiveStitch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Complete(context.Background(), tt.stitch, tt.score, tt.total)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, IsStorageError(err))
		})
	}

	assert.Equal(t, before, s.TubeSet())
	assert.Equal(t, seq, s.Sequence())
	assert.Zero(t, snaps.saves)
}

func TestComplete_RotationFailureRollsBack(t *testing.T) {
	ts := testSet(t)
	ts.Tubes[1] = spacedrep.NewTube(spacedrep.Tube2, "t2")
	s, err := New("learner-1", ts, 0, Options{Now: func() time.Time { return testNow }})
	require.NoError(t, err)

	_, err = s.Complete(context.Background(), "a1", 10, 10)
	assert.ErrorIs(t, err, spacedrep.ErrEmptyTargetTube)

	after := s.TubeSet()
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, slotIDs(after.Tube(spacedrep.Tube1)))
	assert.Equal(t, 0, after.TotalPoints)
	assert.Equal(t, spacedrep.Tube1, after.ActiveTube)
}

func TestComplete_StorageFailureKeepsResult(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.saveErr = errors.New("disk full")
	events := &memEvents{appendErr: errors.New("history offline")}
	s := newTestSession(t, Options{Snapshots: snaps, Events: events})

	out, err := s.Complete(context.Background(), "a1", 10, 10)
	require.Error(t, err)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "complete", se.Op)
	assert.Equal(t, out.Snapshot.Sequence, se.Sequence)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "history offline")

	assert.True(t, se.SaveFailed)
	require.Len(t, se.History, 1)
	assert.Equal(t, "a1", se.History[0].StitchID)

	assert.Equal(t, spacedrep.Tube2, out.ActiveTube)
	assert.Equal(t, spacedrep.Tube2, s.TubeSet().ActiveTube)
}

func TestComplete_HistoryFailureOnly(t *testing.T) {
	snaps := newMemSnapshots()
	events := &memEvents{appendErr: errors.New("history offline")}
	s := newTestSession(t, Options{Snapshots: snaps, Events: events})

	out, err := s.Complete(context.Background(), "a1", 3, 10)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.SaveFailed)
	require.Len(t, se.History, 1)
	assert.Equal(t, store.CompletionEventData{
		LearnerID:        "learner-1",
		SessionID:        s.ID(),
		TubeNumber:       1,
		StitchID:         "a1",
		Score:            3,
		Total:            10,
		SkipBefore:       1,
		SkipAfter:        1,
		DistractorBefore: "L1",
		DistractorAfter:  "L1",
		Timestamp:        out.Completion.CompletedAt,
	}, se.History[0])

	latest, err := snaps.Latest(context.Background(), "learner-1")
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.Sequence, latest.Sequence)
}

func TestCycleAndSelect(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestSession(t, Options{Snapshots: snaps})
	ctx := context.Background()

	for _, want := range []spacedrep.TubeNumber{2, 3, 1} {
		snap, err := s.Cycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, int(want), snap.ActiveTube)
	}
	assert.Equal(t, 1, s.TubeSet().CycleCount)

	snap, err := s.Select(ctx, spacedrep.Tube3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ActiveTube)
	assert.Equal(t, 1, snap.CycleCount)

	_, err = s.Select(ctx, 4)
	assert.ErrorIs(t, err, spacedrep.ErrInvalidTubeNumber)
	assert.ErrorIs(t, err, spacedrep.ErrValidation)

	stored, err := snaps.Latest(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ActiveTube)
	assert.Equal(t, snap.Sequence, stored.Sequence)
}

func TestSequenceStrictlyIncreases(t *testing.T) {
	// A frozen clock must still yield increasing sequences.
	s := newTestSession(t, Options{})
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		snap, err := s.Cycle(ctx)
		require.NoError(t, err)
		assert.Greater(t, snap.Sequence, last)
		last = snap.Sequence
	}
	assert.GreaterOrEqual(t, last, uint64(testNow.UnixNano()))
}

func TestPersist_IsIdempotent(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestSession(t, Options{Snapshots: snaps})
	ctx := context.Background()

	_, err := s.Cycle(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Persist(ctx))

	stored, err := snaps.Latest(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, s.Sequence(), stored.Sequence)
	assert.Equal(t, 3, snaps.saves)
}

func TestObservers(t *testing.T) {
	var changed []snapshot.Snapshot
	var active []spacedrep.TubeNumber
	obs := ObserverFuncs{
		TubeSetChanged:    func(snap snapshot.Snapshot) { changed = append(changed, snap) },
		ActiveTubeChanged: func(n spacedrep.TubeNumber) { active = append(active, n) },
	}
	s := newTestSession(t, Options{Observers: []Observer{obs}, ManualRotation: true})
	ctx := context.Background()

	_, err := s.Complete(ctx, "a1", 5, 10)
	require.NoError(t, err)
	_, err = s.Select(ctx, spacedrep.Tube1)
	require.NoError(t, err)
	_, err = s.Cycle(ctx)
	require.NoError(t, err)
	_, err = s.Complete(ctx, "zz", 5, 10)
	require.Error(t, err)

	require.Len(t, changed, 3)
	assert.Equal(t, 5, changed[0].TotalPoints)
	assert.Equal(t, 2, changed[2].ActiveTube)
	assert.Equal(t, []spacedrep.TubeNumber{spacedrep.Tube2}, active)
}

func TestAddObserver(t *testing.T) {
	s := newTestSession(t, Options{})
	var got []spacedrep.TubeNumber
	s.AddObserver(ObserverFuncs{ActiveTubeChanged: func(n spacedrep.TubeNumber) { got = append(got, n) }})

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []spacedrep.TubeNumber{spacedrep.Tube2}, got)
}

func TestObserverPanicReleasesLock(t *testing.T) {
	s := newTestSession(t, Options{})
	panicked := false
	s.AddObserver(ObserverFuncs{TubeSetChanged: func(snapshot.Snapshot) {
		if !panicked {
			panicked = true
			panic("observer failed")
		}
	}})
	ctx := context.Background()

	assert.Panics(t, func() { _, _ = s.Cycle(ctx) })

	done := make(chan spacedrep.TubeSet, 1)
	go func() { done <- s.TubeSet() }()
	select {
	case ts := <-done:
		assert.Equal(t, spacedrep.Tube2, ts.ActiveTube)
	case <-time.After(time.Second):
		t.Fatal("session lock still held after observer panic")
	}

	snap, err := s.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ActiveTube)
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Cycle(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ts := s.TubeSet()
	assert.Equal(t, spacedrep.Tube1, ts.ActiveTube)
	assert.Equal(t, n/3, ts.CycleCount)
}

func TestRejectConcurrent_ReturnsBusy(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hold := ObserverFuncs{TubeSetChanged: func(snapshot.Snapshot) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}}
	s := newTestSession(t, Options{Observers: []Observer{hold}, RejectConcurrent: true, Metrics: metrics})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Cycle(ctx)
		done <- err
	}()
	<-entered

	_, err = s.Complete(ctx, "b1", 10, 10)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Select(ctx, spacedrep.Tube3)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	// The in-flight call finished; the session accepts work again.
	_, err = s.Complete(ctx, "b1", 10, 10)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BusyRejections))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Completions.WithLabelValues("perfect")))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	snaps := newMemSnapshots()
	s := newTestSession(t, Options{Metrics: metrics, Snapshots: snaps})
	ctx := context.Background()

	_, err = s.Complete(ctx, "a1", 10, 10) // tube 1 -> 2
	require.NoError(t, err)
	_, err = s.Complete(ctx, "b1", 3, 10) // tube 2 -> 3
	require.NoError(t, err)
	_, err = s.Cycle(ctx) // tube 3 -> 1, wraps
	require.NoError(t, err)
	_, err = s.Complete(ctx, "nope", 1, 10)
	require.Error(t, err)
	_, err = s.Complete(ctx, "a2", 1, 0)
	require.Error(t, err)

	snaps.saveErr = errors.New("boom")
	_, err = s.Select(ctx, spacedrep.Tube2)
	require.True(t, IsStorageError(err))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Completions.WithLabelValues("perfect")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Completions.WithLabelValues("partial")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Rotations.WithLabelValues("cycle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Rotations.WithLabelValues("select")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CyclesCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Rejected.WithLabelValues("state_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Rejected.WithLabelValues("validation")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageFailures.WithLabelValues("save")))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestOpen_FreshWhenNothingStored(t *testing.T) {
	snaps := newMemSnapshots()
	s, err := Open(context.Background(), "learner-1", staticAssigner{ts: testSet(t)}, Options{Snapshots: snaps})
	require.NoError(t, err)
	assert.True(t, s.Fresh())
	assert.Equal(t, uint64(0), s.Sequence())
	assert.Equal(t, spacedrep.Tube1, s.TubeSet().ActiveTube)
}

func TestOpen_RestoresLatest(t *testing.T) {
	snaps := newMemSnapshots()
	ctx := context.Background()

	first := newTestSession(t, Options{Snapshots: snaps})
	_, err := first.Complete(ctx, "a1", 10, 10)
	require.NoError(t, err)

	s, err := Open(ctx, "learner-1", staticAssigner{err: errors.New("should not be called")}, Options{Snapshots: snaps})
	require.NoError(t, err)
	assert.False(t, s.Fresh())
	assert.Equal(t, first.Sequence(), s.Sequence())
	assert.Equal(t, first.TubeSet(), s.TubeSet())
	assert.NotEqual(t, first.ID(), s.ID())
}

func TestOpen_MalformedIsReported(t *testing.T) {
	snaps := newMemSnapshots()
	bad := snapshot.Encode(testSet(t))
	bad.Sequence = 42
	bad.Tubes[0].Slots[1].SkipNumber = 4
	snaps.byUser["learner-1"] = bad

	_, err := Open(context.Background(), "learner-1", staticAssigner{ts: testSet(t)}, Options{Snapshots: snaps})
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)

	// Starting over must outrank the broken row on the next write.
	s, err := Start("learner-1", staticAssigner{ts: testSet(t)}, Options{Snapshots: snaps})
	require.NoError(t, err)
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)

	stored, err := snaps.Latest(context.Background(), "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ActiveTube)
	assert.Greater(t, stored.Sequence, uint64(42))
}

func TestStart_AssignerFailure(t *testing.T) {
	_, err := Start("learner-1", staticAssigner{err: errors.New("no content")}, Options{})
	assert.ErrorContains(t, err, "no content")

	_, err = Start("learner-1", nil, Options{})
	assert.Error(t, err)
}
