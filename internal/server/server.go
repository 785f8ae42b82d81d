// Package server exposes the HTTP introspection interface for the
// orchestration core: liveness, readiness, per-service lifecycle state, the
// latest run report, the event trail, and Prometheus metrics.
package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/events/sinks"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/registrar"
	"github.com/JakeFAU/servicegraph/internal/registry"
)

const (
	requestTimeout       = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultTrailCapacity = 512
)

// Server wires HTTP handlers to the registry and registrar.
type Server struct {
	router       chi.Router
	registry     *registry.Registry
	registrar    *registrar.Registrar
	trail        *sinks.MemorySink
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	probeTimeout time.Duration
}

// New constructs a Server with middleware and routes. The trail sink and
// gatherer are optional; their endpoints degrade gracefully when absent.
func New(
	reg *registry.Registry,
	rgr *registrar.Registrar,
	trail *sinks.MemorySink,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		registry:     reg,
		registrar:    rgr,
		trail:        trail,
		gatherer:     gatherer,
		logger:       logger,
		probeTimeout: defaultProbeTimeout,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/services", s.listServices)
		r.Get("/services/{name}", s.getService)
		r.Get("/report", s.getReport)
		r.Get("/events", s.listEvents)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the orchestrator has completed a run. A failed or
// in-flight run answers 503 with the current phase so probes can distinguish
// startup from breakage.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	phase := s.registrar.Phase()
	if phase != registrar.PhaseCompleted {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"phase":  string(phase),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// serviceView is the JSON shape for one tracked service.
type serviceView struct {
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	State         lifecycle.State `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	InitializedAt *time.Time      `json:"initialized_at,omitempty"`
	HasHealth     bool            `json:"has_health_check"`
	HasTeardown   bool            `json:"has_teardown"`
}

func toServiceView(rec lifecycle.Record) serviceView {
	view := serviceView{
		Name:        rec.Name,
		Kind:        rec.Kind.String(),
		State:       rec.State,
		CreatedAt:   rec.CreatedAt,
		HasHealth:   rec.Hooks.HasHealth(),
		HasTeardown: rec.Hooks.HasTeardown(),
	}
	if !rec.InitializedAt.IsZero() {
		at := rec.InitializedAt
		view.InitializedAt = &at
	}
	return view
}

func (s *Server) listServices(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.Tracker().Snapshot()
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	views := make([]serviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, toServiceView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": views,
		"stats":    s.registry.GetStats(),
	})
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, ok := s.registry.Tracker().Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	health := lifecycle.Probe(r.Context(), name, rec.Hooks, s.probeTimeout, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"service": toServiceView(rec),
		"health":  health,
	})
}

func (s *Server) getReport(w http.ResponseWriter, _ *http.Request) {
	report := s.registrar.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no registration run has completed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// eventView flattens the binary run ID for JSON consumers.
type eventView struct {
	RunID    string        `json:"run_id"`
	TS       time.Time     `json:"ts"`
	Stage    string        `json:"stage"`
	Service  string        `json:"service,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Phase    string        `json:"phase,omitempty"`
	Healthy  bool          `json:"healthy"`
	Success  bool          `json:"success"`
	Attempts int           `json:"attempts,omitempty"`
	Dur      time.Duration `json:"dur"`
	Note     string        `json:"note,omitempty"`
}

func (s *Server) listEvents(w http.ResponseWriter, _ *http.Request) {
	if s.trail == nil {
		writeError(w, http.StatusNotFound, "event trail is not enabled")
		return
	}
	trail := s.trail.Events()
	views := make([]eventView, 0, len(trail))
	for _, evt := range trail {
		views = append(views, eventView{
			RunID:    evt.RunUUID().String(),
			TS:       evt.TS,
			Stage:    string(evt.Stage),
			Service:  evt.Service,
			Kind:     evt.Kind,
			Phase:    evt.Phase,
			Healthy:  evt.Healthy,
			Success:  evt.Success,
			Attempts: evt.Attempts,
			Dur:      evt.Dur,
			Note:     evt.Note,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
