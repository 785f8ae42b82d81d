// Package registry implements the name-keyed instance store at the center of
// the orchestration core. It lazily constructs and memoizes singletons,
// validates the dependency graph it holds, and tears instances down in
// reverse creation order.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/clock/system"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/service"
)

// Factory produces one instance from already-resolved dependency instances,
// given in the entry's declared dependency order. Factories may block; they
// receive the caller's context.
type Factory func(ctx context.Context, deps []any) (any, error)

type entry struct {
	factory      Factory
	value        any
	hasValue     bool
	singleton    bool
	dependencies []string
	created      bool
	instance     any
}

// Option adjusts a registration.
type Option func(*entry)

// WithDependencies declares the names resolved and passed to the factory.
func WithDependencies(names ...string) Option {
	return func(e *entry) {
		e.dependencies = append([]string(nil), names...)
	}
}

// Transient disables memoization; every Get invokes the factory again.
func Transient() Option {
	return func(e *entry) {
		e.singleton = false
	}
}

// Stats is a read-only snapshot of registry occupancy.
type Stats struct {
	Registered int `json:"registered"`
	Created    int `json:"created"`
	Singletons int `json:"singletons"`
}

// Registry owns the entry table, the memoized instances, and the creation
// order used for teardown. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	tracker *lifecycle.Tracker
	logger  *zap.Logger
	clock   service.Clock
}

// New builds an empty Registry. The tracker is shared with the instance
// factory so both sides see one lifecycle side table.
func New(logger *zap.Logger, tracker *lifecycle.Tracker, clock service.Clock) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = lifecycle.NewTracker()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Registry{
		entries: make(map[string]*entry),
		tracker: tracker,
		logger:  logger,
		clock:   clock,
	}
}

// Tracker exposes the shared lifecycle side table.
func (r *Registry) Tracker() *lifecycle.Tracker {
	return r.tracker
}

// Register records an entry without instantiating anything; re-registering a
// name overwrites the previous entry. A Factory provider is invoked lazily on
// first Get; any other provider is stored as a ready value, which counts as
// created immediately so teardown ordering includes it.
func (r *Registry) Register(name string, provider any, opts ...Option) error {
	if name == "" {
		return service.NewValidationFailed("", "registration name is empty", nil)
	}
	e := &entry{singleton: true}
	switch p := provider.(type) {
	case Factory:
		e.factory = p
	case func(ctx context.Context, deps []any) (any, error):
		e.factory = p
	default:
		e.value = provider
		e.hasValue = true
	}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[name]; ok && old.created {
		// Overwrite drops the old instance; it leaves creation order so the
		// replacement is not disposed twice. The side-table record goes with
		// it, or teardown and health probes would keep the old hooks.
		r.removeFromOrderLocked(name)
		r.tracker.Remove(name)
	}
	if e.hasValue {
		e.instance = e.value
		e.created = true
		r.order = append(r.order, name)
		if _, ok := r.tracker.Lookup(name); !ok {
			r.tracker.Track(name, service.KindValue, r.clock.Now(), lifecycle.Detect(e.value))
		}
	}
	r.entries[name] = e
	return nil
}

// Has reports whether the name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Instance returns the memoized instance for name without triggering
// construction. It is the lookup the orchestrator uses when gathering a
// dependent's inputs: absence signals an ordering bug, not a cue to build.
func (r *Registry) Instance(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || !e.created {
		return nil, false
	}
	return e.instance, true
}

// Get returns the named instance, constructing it (and, recursively, its
// dependencies) on first use. Singletons are memoized: repeated calls return
// the same instance and invoke the factory exactly once.
func (r *Registry) Get(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	if ok && e.created && e.singleton {
		instance := e.instance
		r.mu.RUnlock()
		return instance, nil
	}
	r.mu.RUnlock()
	if !ok {
		return nil, service.NewNotFound(name)
	}
	if e.hasValue {
		return e.value, nil
	}

	deps := make([]any, len(e.dependencies))
	for i, dep := range e.dependencies {
		resolved, err := r.Get(ctx, dep)
		if err != nil {
			return nil, err
		}
		deps[i] = resolved
	}

	instance, err := e.factory(ctx, deps)
	if err != nil {
		return nil, service.NewCreationFailed(name, service.KindFactory, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.singleton {
		if e.created {
			// A concurrent resolve won the race; keep the memoized instance.
			return e.instance, nil
		}
		e.instance = instance
		e.created = true
		r.order = append(r.order, name)
		if _, tracked := r.tracker.Lookup(name); !tracked {
			r.tracker.Track(name, service.KindFactory, r.clock.Now(), lifecycle.Detect(instance))
		}
	}
	return instance, nil
}

// ValidateDependencies walks the held graph depth-first with a recursion
// stack, failing with the full path on the first cycle. Completely visited
// nodes are not re-walked. Unregistered references are collected and reported
// together after the walk.
func (r *Registry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]bool, len(r.entries))
	onStack := make(map[string]bool)
	var missing []string
	seenMissing := make(map[string]bool)

	var walk func(name string, path []string) *service.Error
	walk = func(name string, path []string) *service.Error {
		if onStack[name] {
			cycle := append(append([]string(nil), path...), name)
			return service.NewCircularDependency(trimCyclePrefix(cycle, name))
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		onStack[name] = true
		defer func() { onStack[name] = false }()

		e := r.entries[name]
		for _, dep := range e.dependencies {
			if _, ok := r.entries[dep]; !ok {
				ref := name + " -> " + dep
				if !seenMissing[ref] {
					seenMissing[ref] = true
					missing = append(missing, ref)
				}
				continue
			}
			next := append(append([]string(nil), path...), name)
			if err := walk(dep, next); err != nil {
				return err
			}
		}
		return nil
	}

	names := r.namesLocked()
	for _, name := range names {
		if visited[name] {
			continue
		}
		if err := walk(name, nil); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return service.NewMissingDependencies(missing)
	}
	return nil
}

// trimCyclePrefix drops path entries that lead into, but are not part of, the
// reported cycle, so the result starts and ends at the revisited name.
func trimCyclePrefix(path []string, pivot string) []string {
	for i, name := range path {
		if name == pivot {
			return path[i:]
		}
	}
	return path
}

// Dispose tears down created instances in reverse creation order. Each
// instance gets its cached teardown hook (dispose, then close, then cleanup);
// failures are logged and never stop the loop. All tables are cleared before
// returning.
func (r *Registry) Dispose(ctx context.Context) {
	r.mu.Lock()
	order := r.order
	entries := r.entries
	r.order = nil
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		e, ok := entries[name]
		if !ok || !e.created {
			continue
		}
		r.disposeInstance(ctx, name, e.instance)
	}
	r.tracker.Reset()
}

func (r *Registry) disposeInstance(ctx context.Context, name string, instance any) {
	hooks, ok := r.tracker.Hooks(name)
	if !ok {
		hooks = lifecycle.Detect(instance)
	}
	if !hooks.HasTeardown() {
		r.tracker.SetState(name, lifecycle.StateDisposed)
		return
	}
	r.tracker.SetState(name, lifecycle.StateDisposing)
	err := func() (tdErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				tdErr = service.NewValidationFailed(name, "teardown panicked", nil)
			}
		}()
		return hooks.Teardown(ctx)
	}()
	if err != nil {
		r.tracker.SetState(name, lifecycle.StateDisposeFailed)
		r.logger.Warn("service teardown failed",
			zap.String("service", name),
			zap.String("hook", hooks.TeardownName),
			zap.Error(err),
		)
		return
	}
	r.tracker.SetState(name, lifecycle.StateDisposed)
	r.logger.Debug("service disposed",
		zap.String("service", name),
		zap.String("hook", hooks.TeardownName),
	)
}

// ListServices returns all registered names, sorted.
func (r *Registry) ListServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// CreationOrder returns the names of created instances in creation order.
func (r *Registry) CreationOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// GetStats snapshots registry occupancy.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Registered: len(r.entries)}
	for _, e := range r.entries {
		if e.created {
			stats.Created++
		}
		if e.singleton {
			stats.Singletons++
		}
	}
	return stats
}

// GetHealth probes every created instance, bounded per probe. Instances
// without a health hook are reported healthy. The pass is best-effort: probe
// failures land in the results, never as an error.
func (r *Registry) GetHealth(ctx context.Context, timeout time.Duration) []lifecycle.HealthResult {
	r.mu.RLock()
	created := make([]string, 0, len(r.order))
	created = append(created, r.order...)
	r.mu.RUnlock()

	results := make([]lifecycle.HealthResult, 0, len(created))
	for _, name := range created {
		hooks, ok := r.tracker.Hooks(name)
		if !ok {
			if instance, found := r.Instance(name); found {
				hooks = lifecycle.Detect(instance)
			}
		}
		results = append(results, lifecycle.Probe(ctx, name, hooks, timeout, r.clock.Now()))
	}
	return results
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) removeFromOrderLocked(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
