package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/servicegraph/internal/events"
)

// PrometheusSink exports orchestration metrics. It owns all collectors for
// runs started/completed/active, per-service registration counters and
// latencies, and health probe outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	servicesRegistered *prometheus.CounterVec
	serviceDuration    *prometheus.HistogramVec
	retryAttempts      prometheus.Counter
	healthChecks       *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicegraph_runs_started_total",
			Help: "Total orchestration runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicegraph_runs_completed_total",
			Help: "Total orchestration runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "servicegraph_runs_active",
			Help: "Current number of in-flight orchestration runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "servicegraph_run_duration_seconds",
			Help:    "Wall time per completed orchestration run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"result"}),
		servicesRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicegraph_services_registered_total",
			Help: "Service registrations partitioned by construction kind.",
		}, []string{"kind"}),
		serviceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "servicegraph_service_registration_seconds",
			Help:    "Construction latency per registered service.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicegraph_retry_attempts_total",
			Help: "Construction attempts beyond the first, across all services.",
		}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicegraph_health_checks_total",
			Help: "Health probe outcomes partitioned by result.",
		}, []string{"healthy"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.servicesRegistered,
		s.serviceDuration,
		s.retryAttempts,
		s.healthChecks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageRegistrationStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case events.StageRegistrationDone, events.StageRegistrationError:
		result := "success"
		if evt.Stage == events.StageRegistrationError || !evt.Success {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case events.StageServiceRegistered:
		kind := evt.Kind
		if kind == "" {
			kind = "unknown"
		}
		s.servicesRegistered.WithLabelValues(kind).Inc()
		if evt.Dur > 0 {
			s.serviceDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
		}
		if evt.Attempts > 1 {
			s.retryAttempts.Add(float64(evt.Attempts - 1))
		}
	case events.StageHealthCheck:
		if evt.Healthy {
			s.healthChecks.WithLabelValues("true").Inc()
		} else {
			s.healthChecks.WithLabelValues("false").Inc()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker keeps the active-runs gauge honest across duplicate or
// out-of-order completion events.
type runTracker struct {
	mu     sync.Mutex
	active map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
