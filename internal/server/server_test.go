package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/servicegraph/internal/events"
	"github.com/JakeFAU/servicegraph/internal/events/sinks"
	"github.com/JakeFAU/servicegraph/internal/factory"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/registrar"
	"github.com/JakeFAU/servicegraph/internal/registry"
	"github.com/JakeFAU/servicegraph/internal/resolver"
	"github.com/JakeFAU/servicegraph/internal/service"
)

const (
	testWaitBudget   = 2 * time.Second
	testPollInterval = 10 * time.Millisecond
)

type fixture struct {
	server    *Server
	registrar *registrar.Registrar
	trail     *sinks.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tracker := lifecycle.NewTracker()
	reg := registry.New(nil, tracker, nil)
	fac := factory.New(nil, tracker, nil)
	res := resolver.New(nil)

	trail := sinks.NewMemorySink(defaultTrailCapacity)
	hub := events.NewHub(events.Config{}, trail)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	rgr := registrar.New(reg, fac, res, hub, nil, nil, registrar.Options{})
	promReg := prometheus.NewRegistry()
	return &fixture{
		server:    New(reg, rgr, trail, promReg, nil),
		registrar: rgr,
		trail:     trail,
	}
}

func (f *fixture) runDefinitions(t *testing.T, defs ...service.Definition) {
	t.Helper()
	_, err := f.registrar.Run(context.Background(), defs)
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func valueDef(name string) service.Definition {
	return service.Definition{Name: name, Kind: service.KindValue, Impl: name}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzBeforeAndAfterRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "idle", decode(t, rec)["phase"])

	f.runDefinitions(t, valueDef("config"))
	rec = f.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListServices(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runDefinitions(t, valueDef("beta"), valueDef("alpha"))

	rec := f.get(t, "/v1/services")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	services := body["services"].([]any)
	require.Len(t, services, 2)
	first := services[0].(map[string]any)
	require.Equal(t, "alpha", first["name"])
	require.Equal(t, "value", first["kind"])
	require.Equal(t, string(lifecycle.StateCreated), first["state"])
}

func TestGetService(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runDefinitions(t, valueDef("config"))

	rec := f.get(t, "/v1/services/config")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	health := body["health"].(map[string]any)
	require.Equal(t, true, health["healthy"])

	rec = f.get(t, "/v1/services/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/v1/report")
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.runDefinitions(t, valueDef("config"))
	rec = f.get(t, "/v1/report")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	summary := body["summary"].(map[string]any)
	require.EqualValues(t, 1, summary["succeeded"])
	require.Equal(t, "completed", summary["phase"])
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runDefinitions(t, valueDef("config"))

	// Flush the hub so the trail is fully populated.
	require.Eventually(t, func() bool {
		return len(f.trail.Events()) > 0
	}, testWaitBudget, testPollInterval)

	rec := f.get(t, "/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	trail := body["events"].([]any)
	require.NotEmpty(t, trail)
	first := trail[0].(map[string]any)
	require.NotEmpty(t, first["run_id"])
	require.NotEmpty(t, first["stage"])
}

func TestListEventsWithoutTrail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.server.trail = nil
	rec := f.get(t, "/v1/events")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
