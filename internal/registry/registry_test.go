package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/service"
)

type disposable struct {
	name string
	log  *[]string
	mu   *sync.Mutex
	fail bool
	sick bool
}

func (d *disposable) Dispose(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	*d.log = append(*d.log, d.name)
	if d.fail {
		return errors.New("teardown blew up")
	}
	return nil
}

func (d *disposable) HealthCheck(context.Context) error {
	if d.sick {
		return errors.New("unhealthy")
	}
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(nil, nil, nil)
}

func TestRegisterAndGetValue(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.NoError(t, reg.Register("config", map[string]string{"env": "test"}))
	require.True(t, reg.Has("config"))

	got, err := reg.Get(context.Background(), "config")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"env": "test"}, got)

	// Values count as created immediately.
	instance, ok := reg.Instance("config")
	require.True(t, ok)
	require.NotNil(t, instance)
	require.Equal(t, []string{"config"}, reg.CreationOrder())
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.Error(t, reg.Register("", 42))
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "ghost")
	require.True(t, service.IsNotFound(err))
}

func TestSingletonFactoryInvokedOnce(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var calls int
	var mu sync.Mutex
	require.NoError(t, reg.Register("db", Factory(func(context.Context, []any) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &struct{ ID int }{ID: 1}, nil
	})))

	first, err := reg.Get(context.Background(), "db")
	require.NoError(t, err)
	second, err := reg.Get(context.Background(), "db")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestSingletonSurvivesConcurrentGets(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.NoError(t, reg.Register("shared", Factory(func(context.Context, []any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return &struct{}{}, nil
	})))

	const goroutines = 8
	results := make([]any, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := reg.Get(context.Background(), "shared")
			if err != nil {
				t.Errorf("get failed: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()
	for i := 1; i < goroutines; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestTransientFactoryInvokedEveryGet(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var calls int
	require.NoError(t, reg.Register("scratch", Factory(func(context.Context, []any) (any, error) {
		calls++
		return &struct{}{}, nil
	}), Transient()))

	_, err := reg.Get(context.Background(), "scratch")
	require.NoError(t, err)
	_, err = reg.Get(context.Background(), "scratch")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestGetResolvesDependenciesRecursively(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.NoError(t, reg.Register("config", "prod"))
	require.NoError(t, reg.Register("db", Factory(func(_ context.Context, deps []any) (any, error) {
		return "db(" + deps[0].(string) + ")", nil
	}), WithDependencies("config")))
	require.NoError(t, reg.Register("api", Factory(func(_ context.Context, deps []any) (any, error) {
		return "api(" + deps[0].(string) + ")", nil
	}), WithDependencies("db")))

	got, err := reg.Get(context.Background(), "api")
	require.NoError(t, err)
	require.Equal(t, "api(db(prod))", got)
	require.Equal(t, []string{"config", "db", "api"}, reg.CreationOrder())
}

func TestGetWrapsFactoryFailure(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	boom := errors.New("connect refused")
	require.NoError(t, reg.Register("db", Factory(func(context.Context, []any) (any, error) {
		return nil, boom
	})))

	_, err := reg.Get(context.Background(), "db")
	require.True(t, service.IsCreationFailed(err))
	require.ErrorIs(t, err, boom)
}

func TestValidateDependenciesReportsCyclePath(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	factory := Factory(func(context.Context, []any) (any, error) { return struct{}{}, nil })
	require.NoError(t, reg.Register("A", factory, WithDependencies("B")))
	require.NoError(t, reg.Register("B", factory, WithDependencies("A")))

	err := reg.ValidateDependencies()
	require.True(t, service.IsCircularDependency(err))
	require.Contains(t, err.Error(), "A -> B -> A")
}

func TestValidateDependenciesCollectsAllMissing(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	factory := Factory(func(context.Context, []any) (any, error) { return struct{}{}, nil })
	require.NoError(t, reg.Register("api", factory, WithDependencies("cache", "queue")))
	require.NoError(t, reg.Register("worker", factory, WithDependencies("queue")))

	err := reg.ValidateDependencies()
	require.True(t, service.IsMissingDependencies(err))
	var coded *service.Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, []string{"api -> cache", "api -> queue", "worker -> queue"}, coded.Path)
}

func TestValidateDependenciesCleanGraph(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	factory := Factory(func(context.Context, []any) (any, error) { return struct{}{}, nil })
	require.NoError(t, reg.Register("a", factory))
	require.NoError(t, reg.Register("b", factory, WithDependencies("a")))
	require.NoError(t, reg.ValidateDependencies())
}

func TestDisposeReverseCreationOrder(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var log []string
	var mu sync.Mutex
	for _, name := range []string{"first", "second", "third"} {
		name := name
		require.NoError(t, reg.Register(name, Factory(func(context.Context, []any) (any, error) {
			return &disposable{name: name, log: &log, mu: &mu}, nil
		})))
	}
	for _, name := range []string{"first", "second", "third"} {
		_, err := reg.Get(context.Background(), name)
		require.NoError(t, err)
	}

	reg.Dispose(context.Background())
	require.Equal(t, []string{"third", "second", "first"}, log)
	require.Empty(t, reg.ListServices())
	require.Empty(t, reg.CreationOrder())
}

func TestDisposeFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var log []string
	var mu sync.Mutex
	require.NoError(t, reg.Register("good", &disposable{name: "good", log: &log, mu: &mu}))
	require.NoError(t, reg.Register("bad", &disposable{name: "bad", log: &log, mu: &mu, fail: true}))
	require.NoError(t, reg.Register("last", &disposable{name: "last", log: &log, mu: &mu}))

	reg.Dispose(context.Background())
	require.Equal(t, []string{"last", "bad", "good"}, log)
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.NoError(t, reg.Register("value", 1))
	require.NoError(t, reg.Register("lazy", Factory(func(context.Context, []any) (any, error) {
		return struct{}{}, nil
	})))

	stats := reg.GetStats()
	require.Equal(t, 2, stats.Registered)
	require.Equal(t, 1, stats.Created)
	require.Equal(t, 2, stats.Singletons)
}

func TestGetHealthReportsEveryCreatedInstance(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var log []string
	var mu sync.Mutex
	require.NoError(t, reg.Register("healthy", &disposable{name: "healthy", log: &log, mu: &mu}))
	require.NoError(t, reg.Register("sick", &disposable{name: "sick", log: &log, mu: &mu, sick: true}))
	require.NoError(t, reg.Register("plain", struct{}{}))

	results := reg.GetHealth(context.Background(), time.Second)
	require.Len(t, results, 3)
	byName := make(map[string]lifecycle.HealthResult, len(results))
	for _, res := range results {
		byName[res.ServiceName] = res
	}
	require.True(t, byName["healthy"].Healthy)
	require.False(t, byName["sick"].Healthy)
	require.True(t, byName["plain"].Healthy)
}

func TestReRegisterOverwrites(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.NoError(t, reg.Register("config", "old"))
	require.NoError(t, reg.Register("config", "new"))

	got, err := reg.Get(context.Background(), "config")
	require.NoError(t, err)
	require.Equal(t, "new", got)
	require.Equal(t, []string{"config"}, reg.CreationOrder())
}

func TestReRegisterRetargetsLifecycleHooks(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	var log []string
	var mu sync.Mutex
	require.NoError(t, reg.Register("cache", &disposable{name: "old", log: &log, mu: &mu}))
	require.NoError(t, reg.Register("cache", &disposable{name: "new", log: &log, mu: &mu, sick: true}))

	// Probes and teardown must follow the replacement, not the dropped instance.
	health := reg.GetHealth(context.Background(), time.Second)
	require.Len(t, health, 1)
	require.False(t, health[0].Healthy)

	reg.Dispose(context.Background())
	require.Equal(t, []string{"new"}, log)
}
