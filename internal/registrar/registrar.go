// Package registrar drives the end-to-end orchestration flow: resolve a safe
// construction order, register every definition with retry and backoff,
// re-validate the resulting graph, run best-effort health checks, eagerly
// construct critical services, and produce a structured report while emitting
// lifecycle notifications.
package registrar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/clock/system"
	"github.com/JakeFAU/servicegraph/internal/events"
	"github.com/JakeFAU/servicegraph/internal/factory"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/registry"
	"github.com/JakeFAU/servicegraph/internal/resolver"
	"github.com/JakeFAU/servicegraph/internal/service"
)

// Phase is one step of the orchestration state machine.
type Phase string

// Registration phases in execution order.
const (
	PhaseIdle                 Phase = "idle"
	PhaseInitializing         Phase = "initializing"
	PhaseDependencyResolution Phase = "dependency_resolution"
	PhaseServiceRegistration  Phase = "service_registration"
	PhasePostProcessing       Phase = "post_processing"
	PhaseCompleted            Phase = "completed"
	PhaseFailed               Phase = "failed"
)

// Registrar orchestrates one registration run at a time over a shared
// registry and factory. Statistics are per-instance and reset on every run,
// so independent registrars never interfere.
type Registrar struct {
	registry *registry.Registry
	factory  *factory.Factory
	resolver *resolver.Resolver
	emitter  events.Emitter
	logger   *zap.Logger
	clock    service.Clock
	opts     Options

	mu         sync.Mutex
	phase      Phase
	lastReport *Report
}

// runState collects everything one run accumulates. It is recreated by every
// Run call.
type runState struct {
	mu         sync.Mutex
	runID      uuid.UUID
	startedAt  time.Time
	metrics    map[string]*ServiceMetric
	order      []string
	registered map[string]bool
}

func (s *runState) metric(def service.Definition) *ServiceMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metrics[def.Name]; ok {
		return m
	}
	m := &ServiceMetric{Name: def.Name, Kind: def.Kind.String(), Critical: def.Critical}
	s.metrics[def.Name] = m
	s.order = append(s.order, def.Name)
	return m
}

func (s *runState) markRegistered(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[name] = true
}

func (s *runState) isRegistered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered[name]
}

// New builds a Registrar. A nil emitter runs headless; nil logger and clock
// get safe defaults.
func New(
	reg *registry.Registry,
	fac *factory.Factory,
	res *resolver.Resolver,
	emitter events.Emitter,
	logger *zap.Logger,
	clock service.Clock,
	opts Options,
) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if clock == nil {
		clock = system.New()
	}
	if res == nil {
		res = resolver.New(logger)
	}
	return &Registrar{
		registry: reg,
		factory:  fac,
		resolver: res,
		emitter:  emitter,
		logger:   logger,
		clock:    clock,
		opts:     opts.normalized(),
		phase:    PhaseIdle,
	}
}

// Phase returns the current phase.
func (r *Registrar) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// LastReport returns the report of the most recent run, if any.
func (r *Registrar) LastReport() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport
}

// Run executes the full orchestration flow over defs. On failure the returned
// error is always a *Error carrying the failing phase and the report of
// everything accomplished before the failure.
func (r *Registrar) Run(ctx context.Context, defs []service.Definition) (*Report, error) {
	run := &runState{
		runID:      uuid.New(),
		startedAt:  r.clock.Now(),
		metrics:    make(map[string]*ServiceMetric, len(defs)),
		registered: make(map[string]bool, len(defs)),
	}

	r.setPhase(run, PhaseInitializing)
	r.factory.ResetStats()
	r.emit(run, events.Event{Stage: events.StageRegistrationStart,
		Note: fmt.Sprintf("registering %d definitions", len(defs))})
	r.logger.Info("registration run started",
		zap.String("run_id", run.runID.String()),
		zap.Int("definitions", len(defs)),
		zap.Bool("parallel", r.opts.Parallel),
	)

	r.setPhase(run, PhaseDependencyResolution)
	ordered, err := r.resolver.ResolveOrder(defs)
	if err != nil {
		return r.fail(run, PhaseDependencyResolution, "dependency resolution failed", err)
	}
	r.resolver.Inspect(defs)

	r.setPhase(run, PhaseServiceRegistration)
	if r.opts.Parallel {
		err = r.registerParallel(ctx, run, defs, ordered)
	} else {
		err = r.registerSequential(ctx, run, ordered)
	}
	if err != nil {
		return r.fail(run, PhaseServiceRegistration, "service registration failed", err)
	}

	r.setPhase(run, PhasePostProcessing)
	if err := r.registry.ValidateDependencies(); err != nil {
		return r.fail(run, PhasePostProcessing, "post-registration validation failed", err)
	}
	health := r.healthPass(ctx, run)
	if err := r.preloadCritical(ctx, run, defs); err != nil {
		return r.fail(run, PhasePostProcessing, "critical service preload failed", err)
	}

	r.setPhase(run, PhaseCompleted)
	report := r.buildReport(run, PhaseCompleted, health)
	r.emit(run, events.Event{Stage: events.StageRegistrationDone,
		Success: true, Dur: report.Summary.Duration})
	r.logger.Info("registration run completed",
		zap.String("run_id", run.runID.String()),
		zap.Int("succeeded", report.Summary.Succeeded),
		zap.Int("failed", report.Summary.Failed),
		zap.Duration("duration", report.Summary.Duration),
	)
	r.storeReport(report)
	return report, nil
}

// registerSequential walks the ordered definitions one at a time, so a
// dependency is always fully registered before its dependent begins.
func (r *Registrar) registerSequential(ctx context.Context, run *runState, ordered []service.Definition) error {
	for _, def := range ordered {
		if err := r.registerOne(ctx, run, def); err != nil {
			return err
		}
	}
	return nil
}

// registerParallel processes dependency-true waves in bounded concurrent
// chunks. The deprecated GroupByPriority option restores the old coarse
// priority batching, which is only safe when priorities agree with the graph.
func (r *Registrar) registerParallel(ctx context.Context, run *runState, defs, ordered []service.Definition) error {
	var waves [][]service.Definition
	if r.opts.GroupByPriority {
		r.logger.Warn("priority-grouped parallel registration is deprecated; " +
			"batches may not respect the dependency graph")
		waves = groupByPriority(ordered)
	} else {
		var err error
		waves, err = r.resolver.SafeBatches(defs)
		if err != nil {
			return err
		}
	}

	for _, wave := range waves {
		for start := 0; start < len(wave); start += r.opts.ChunkSize {
			end := min(start+r.opts.ChunkSize, len(wave))
			if err := r.registerChunk(ctx, run, wave[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

// registerChunk runs one bounded chunk concurrently. A failing member never
// cancels its siblings; the chunk completes and the first error is returned.
func (r *Registrar) registerChunk(ctx context.Context, run *runState, chunk []service.Definition) error {
	if len(chunk) == 1 {
		return r.registerOne(ctx, run, chunk[0])
	}
	var wg sync.WaitGroup
	errs := make([]error, len(chunk))
	for i, def := range chunk {
		wg.Add(1)
		go func(i int, def service.Definition) {
			defer wg.Done()
			errs[i] = r.registerOne(ctx, run, def)
		}(i, def)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// registerOne constructs and registers a single definition with retry and
// exponential backoff. On exhaustion the service either fails the run or, in
// continue-on-error mode, is marked permanently failed and skipped.
func (r *Registrar) registerOne(ctx context.Context, run *runState, def service.Definition) error {
	metric := run.metric(def)
	policy := newBackoffPolicy(r.opts)
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	def.Timeout = timeout

	start := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		metric.Attempts = attempt
		lastErr = r.tryRegister(ctx, run, def, timeout)
		if lastErr == nil {
			metric.Registered = true
			metric.Duration = time.Since(start)
			run.markRegistered(def.Name)
			r.emit(run, events.Event{
				Stage:    events.StageServiceRegistered,
				Service:  def.Name,
				Kind:     def.Kind.String(),
				Attempts: attempt,
				Dur:      metric.Duration,
			})
			r.logger.Debug("service registered",
				zap.String("service", def.Name),
				zap.Int("attempts", attempt),
			)
			return nil
		}
		if !policy.shouldRetry(lastErr, attempt) {
			break
		}
		wait := policy.delay(attempt)
		r.logger.Warn("service construction failed, retrying",
			zap.String("service", def.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		if err := sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	metric.Duration = time.Since(start)
	metric.Error = lastErr.Error()
	wrapped := service.NewRegistrationFailed(def.Name, lastErr)
	if r.opts.ContinueOnError {
		r.logger.Error("service permanently failed, continuing",
			zap.String("service", def.Name),
			zap.Int("attempts", metric.Attempts),
			zap.Error(lastErr),
		)
		return nil
	}
	return wrapped
}

// tryRegister performs one construction attempt: gather dependency instances,
// build under the timeout race, and register the result.
func (r *Registrar) tryRegister(ctx context.Context, run *runState, def service.Definition, timeout time.Duration) error {
	deps := make([]any, len(def.Dependencies))
	for i, dep := range def.Dependencies {
		instance, ok := r.registry.Instance(dep)
		if !ok {
			// The resolver guarantees dependencies register first; a miss
			// here is an ordering bug, not a transient condition.
			return service.NewNotFound(dep)
		}
		deps[i] = instance
	}

	var instance any
	err := func() error {
		done := make(chan error, 1)
		go func() {
			built, buildErr := r.factory.CreateService(ctx, def, deps)
			if buildErr == nil {
				instance = built
			}
			done <- buildErr
		}()
		if timeout <= 0 {
			return <-done
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case buildErr := <-done:
			return buildErr
		case <-timer.C:
			return service.NewTimeout(def.Name, "construction", context.DeadlineExceeded)
		case <-ctx.Done():
			return ctx.Err()
		}
	}()
	if err != nil {
		return err
	}

	return r.registry.Register(def.Name, instance,
		registry.WithDependencies(def.Dependencies...))
}

// healthPass probes every registered service and emits one event per result.
func (r *Registrar) healthPass(ctx context.Context, run *runState) []lifecycle.HealthResult {
	results := r.registry.GetHealth(ctx, r.opts.HealthTimeout)
	for _, res := range results {
		r.emit(run, events.Event{
			Stage:   events.StageHealthCheck,
			Service: res.ServiceName,
			Healthy: res.Healthy,
			Dur:     res.Latency,
			Note:    res.Error,
		})
		if !res.Healthy {
			r.logger.Warn("service reported unhealthy",
				zap.String("service", res.ServiceName),
				zap.String("error", res.Error),
			)
		}
	}
	return results
}

// preloadCritical eagerly resolves every critical definition so startup
// failures surface now rather than on first use.
func (r *Registrar) preloadCritical(ctx context.Context, run *runState, defs []service.Definition) error {
	critical := make([]service.Definition, 0)
	for _, def := range defs {
		if def.Critical {
			critical = append(critical, def)
		}
	}
	sort.Slice(critical, func(i, j int) bool { return critical[i].Name < critical[j].Name })
	for _, def := range critical {
		if r.opts.ContinueOnError && !run.isRegistered(def.Name) {
			continue
		}
		if _, err := r.registry.Get(ctx, def.Name); err != nil {
			if r.opts.ContinueOnError {
				r.logger.Error("critical service preload failed, continuing",
					zap.String("service", def.Name),
					zap.Error(err),
				)
				continue
			}
			return err
		}
		r.logger.Debug("critical service preloaded", zap.String("service", def.Name))
	}
	return nil
}

func (r *Registrar) fail(run *runState, phase Phase, message string, cause error) (*Report, error) {
	r.setPhase(run, PhaseFailed)
	report := r.buildReport(run, phase, nil)
	r.emit(run, events.Event{
		Stage:   events.StageRegistrationError,
		Success: false,
		Dur:     report.Summary.Duration,
		Note:    cause.Error(),
	})
	r.logger.Error("registration run failed",
		zap.String("run_id", run.runID.String()),
		zap.String("phase", string(phase)),
		zap.Error(cause),
	)
	r.storeReport(report)
	return report, &Error{Message: message, Phase: phase, Report: report, Cause: cause}
}

func (r *Registrar) buildReport(run *runState, phase Phase, health []lifecycle.HealthResult) *Report {
	run.mu.Lock()
	services := make([]ServiceMetric, 0, len(run.order))
	succeeded, failed := 0, 0
	for _, name := range run.order {
		m := *run.metrics[name]
		if rec, ok := r.registry.Tracker().Lookup(name); ok {
			m.State = rec.State
		}
		if m.Registered {
			succeeded++
		} else {
			failed++
		}
		services = append(services, m)
	}
	run.mu.Unlock()

	total := len(services)
	rate := 0.0
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}
	now := r.clock.Now()
	return &Report{
		RunID: run.runID,
		Summary: Summary{
			Total:       total,
			Succeeded:   succeeded,
			Failed:      failed,
			SuccessRate: rate,
			Duration:    now.Sub(run.startedAt),
			Phase:       phase,
		},
		Services:      services,
		Health:        health,
		FactoryStats:  r.factory.Stats(),
		RegistryStats: r.registry.GetStats(),
		Timestamp:     now,
	}
}

func (r *Registrar) setPhase(run *runState, phase Phase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
	r.emit(run, events.Event{Stage: events.StagePhaseChange, Phase: string(phase)})
}

func (r *Registrar) storeReport(report *Report) {
	r.mu.Lock()
	r.lastReport = report
	r.mu.Unlock()
}

func (r *Registrar) emit(run *runState, evt events.Event) {
	evt.RunID = events.UUIDToBytes(run.runID)
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}

// groupByPriority batches definitions by their declared priority value,
// preserving topological order inside each group.
func groupByPriority(ordered []service.Definition) [][]service.Definition {
	byPriority := make(map[int][]service.Definition)
	var priorities []int
	for _, def := range ordered {
		if _, ok := byPriority[def.Priority]; !ok {
			priorities = append(priorities, def.Priority)
		}
		byPriority[def.Priority] = append(byPriority[def.Priority], def)
	}
	sort.Ints(priorities)
	waves := make([][]service.Definition, 0, len(priorities))
	for _, p := range priorities {
		waves = append(waves, byPriority[p])
	}
	return waves
}
