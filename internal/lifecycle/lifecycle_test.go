package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/servicegraph/internal/service"
)

type fullService struct {
	initCalls     int
	healthErr     error
	disposeCalls  int
	disposeFailed bool
}

func (s *fullService) Initialize(context.Context) error {
	s.initCalls++
	return nil
}

func (s *fullService) HealthCheck(context.Context) error {
	return s.healthErr
}

func (s *fullService) Dispose(context.Context) error {
	s.disposeCalls++
	if s.disposeFailed {
		return errors.New("dispose failed")
	}
	return nil
}

type closeOnly struct {
	closed bool
}

func (s *closeOnly) Close() error {
	s.closed = true
	return nil
}

type cleanupOnly struct {
	cleaned bool
}

func (s *cleanupOnly) Cleanup(context.Context) error {
	s.cleaned = true
	return nil
}

type detailedChecker struct {
	healthy bool
}

func (s *detailedChecker) HealthCheck(context.Context) (bool, error) {
	return s.healthy, nil
}

func TestDetectFindsAllHooks(t *testing.T) {
	t.Parallel()

	hooks := Detect(&fullService{})
	require.True(t, hooks.HasInit())
	require.True(t, hooks.HasHealth())
	require.True(t, hooks.HasTeardown())
	require.Equal(t, "dispose", hooks.TeardownName)
}

func TestDetectBareInstanceHasNoHooks(t *testing.T) {
	t.Parallel()

	hooks := Detect(struct{}{})
	require.False(t, hooks.HasInit())
	require.False(t, hooks.HasHealth())
	require.False(t, hooks.HasTeardown())

	require.False(t, Detect(nil).HasTeardown())
}

func TestDetectTeardownPrecedence(t *testing.T) {
	t.Parallel()

	closer := &closeOnly{}
	hooks := Detect(closer)
	require.Equal(t, "close", hooks.TeardownName)
	require.NoError(t, hooks.Teardown(context.Background()))
	require.True(t, closer.closed)

	cleaner := &cleanupOnly{}
	hooks = Detect(cleaner)
	require.Equal(t, "cleanup", hooks.TeardownName)
	require.NoError(t, hooks.Teardown(context.Background()))
	require.True(t, cleaner.cleaned)
}

func TestDetectDetailedHealthChecker(t *testing.T) {
	t.Parallel()

	hooks := Detect(&detailedChecker{healthy: true})
	require.True(t, hooks.HasHealth())
	require.NoError(t, hooks.Health(context.Background()))

	hooks = Detect(&detailedChecker{healthy: false})
	require.Error(t, hooks.Health(context.Background()))
}

func TestRaceBoundsSlowOperations(t *testing.T) {
	t.Parallel()

	err := Race(context.Background(), "slow", "initializer", 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	require.Error(t, err)
	require.True(t, service.IsTimeout(err))
}

func TestRaceReturnsOperationError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Race(context.Background(), "svc", "initializer", time.Second, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Non-positive timeout runs inline.
	err = Race(context.Background(), "svc", "initializer", 0, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestTrackerStateTransitions(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	now := time.Now()
	tracker.Track("database", service.KindFactory, now, Hooks{})

	rec, ok := tracker.Lookup("database")
	require.True(t, ok)
	require.Equal(t, StateCreated, rec.State)
	require.Equal(t, now, rec.CreatedAt)

	initAt := now.Add(time.Second)
	tracker.MarkInitialized("database", initAt)
	rec, _ = tracker.Lookup("database")
	require.Equal(t, StateInitialized, rec.State)
	require.Equal(t, initAt, rec.InitializedAt)

	tracker.SetState("database", StateDisposing)
	rec, _ = tracker.Lookup("database")
	require.Equal(t, StateDisposing, rec.State)

	// Unknown names are ignored.
	tracker.SetState("missing", StateDisposed)
	_, ok = tracker.Lookup("missing")
	require.False(t, ok)
}

func TestTrackerSnapshotAndReset(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	tracker.Track("a", service.KindValue, time.Now(), Hooks{})
	tracker.Track("b", service.KindValue, time.Now(), Hooks{})
	require.Len(t, tracker.Snapshot(), 2)

	tracker.Remove("a")
	require.Len(t, tracker.Snapshot(), 1)

	tracker.Reset()
	require.Empty(t, tracker.Snapshot())
}

func TestProbeWithoutHookIsHealthy(t *testing.T) {
	t.Parallel()

	result := Probe(context.Background(), "plain", Hooks{}, time.Second, time.Now())
	require.True(t, result.Healthy)
	require.Empty(t, result.Error)
}

func TestProbeFoldsFailuresIntoResult(t *testing.T) {
	t.Parallel()

	hooks := Hooks{Health: func(context.Context) error { return errors.New("down") }}
	result := Probe(context.Background(), "db", hooks, time.Second, time.Now())
	require.False(t, result.Healthy)
	require.Equal(t, "down", result.Error)
}

func TestProbeRecoversPanics(t *testing.T) {
	t.Parallel()

	hooks := Hooks{Health: func(context.Context) error { panic("bad probe") }}
	result := Probe(context.Background(), "db", hooks, time.Second, time.Now())
	require.False(t, result.Healthy)
	require.Contains(t, result.Error, "panicked")
}

func TestProbeTimesOut(t *testing.T) {
	t.Parallel()

	hooks := Hooks{Health: func(context.Context) error {
		time.Sleep(time.Second)
		return nil
	}}
	result := Probe(context.Background(), "db", hooks, 10*time.Millisecond, time.Now())
	require.False(t, result.Healthy)
	require.Contains(t, result.Error, "timed out")
}
