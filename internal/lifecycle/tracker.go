package lifecycle

import (
	"sync"
	"time"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// State is one step in an instance's lifecycle.
type State string

// Lifecycle states. Instances move created -> (initialized | init_failed),
// then disposing -> (disposed | dispose_failed) during teardown.
const (
	StateCreated       State = "created"
	StateInitialized   State = "initialized"
	StateInitFailed    State = "init_failed"
	StateDisposing     State = "disposing"
	StateDisposed      State = "disposed"
	StateDisposeFailed State = "dispose_failed"
)

// Record is the side-table entry held for one tracked instance.
type Record struct {
	Name          string
	Kind          service.Kind
	CreatedAt     time.Time
	InitializedAt time.Time
	State         State
	Hooks         Hooks
}

// Tracker is the out-of-band metadata table keyed by service name. It stands
// in for hidden per-instance fields so service objects stay untouched.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewTracker returns an empty side table.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*Record)}
}

// Track registers a freshly created instance in state created, replacing any
// stale record left by a prior registration of the same name.
func (t *Tracker) Track(name string, kind service.Kind, createdAt time.Time, hooks Hooks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[name] = &Record{
		Name:      name,
		Kind:      kind,
		CreatedAt: createdAt,
		State:     StateCreated,
		Hooks:     hooks,
	}
}

// SetState transitions the named record; unknown names are ignored.
func (t *Tracker) SetState(name string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[name]; ok {
		rec.State = state
	}
}

// MarkInitialized records a successful initializer run and its completion time.
func (t *Tracker) MarkInitialized(name string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[name]; ok {
		rec.State = StateInitialized
		rec.InitializedAt = at
	}
}

// Lookup returns a copy of the named record.
func (t *Tracker) Lookup(name string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Hooks returns the cached capabilities for the named instance.
func (t *Tracker) Hooks(name string) (Hooks, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[name]
	if !ok {
		return Hooks{}, false
	}
	return rec.Hooks, true
}

// Snapshot returns copies of every record, for introspection and reports.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// Remove drops one record.
func (t *Tracker) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, name)
}

// Reset clears the whole table.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Record)
}
