package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/servicegraph/internal/events"
)

func evt(stage events.Stage, id uuid.UUID) events.Event {
	return events.Event{
		RunID: events.UUIDToBytes(id),
		TS:    time.Now().UTC(),
		Stage: stage,
	}
}

func TestMemorySinkRetainsInOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink(0)
	id := uuid.New()
	batch := []events.Event{
		evt(events.StageRegistrationStart, id),
		evt(events.StageRegistrationDone, id),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	got := sink.Events()
	require.Len(t, got, 2)
	require.Equal(t, events.StageRegistrationStart, got[0].Stage)
	require.Equal(t, events.StageRegistrationDone, got[1].Stage)

	sink.Reset()
	require.Empty(t, sink.Events())
	require.NoError(t, sink.Close(context.Background()))
}

func TestMemorySinkEvictsPastLimit(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink(3)
	id := uuid.New()
	for i := 0; i < 5; i++ {
		e := evt(events.StagePhaseChange, id)
		e.Phase = string(rune('a' + i))
		require.NoError(t, sink.Consume(context.Background(), []events.Event{e}))
	}

	got := sink.Events()
	require.Len(t, got, 3)
	require.Equal(t, "c", got[0].Phase)
	require.Equal(t, "e", got[2].Phase)
}

func TestLogSinkLogsEachEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		evt(events.StageRegistrationStart, id),
		evt(events.StageRegistrationDone, id),
	}))
	require.Equal(t, 2, logs.Len())
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkCountsRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	start := evt(events.StageRegistrationStart, id)
	done := evt(events.StageRegistrationDone, id)
	done.Success = true
	done.Dur = 100 * time.Millisecond

	require.NoError(t, sink.Consume(context.Background(), []events.Event{start}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))

	require.NoError(t, sink.Consume(context.Background(), []events.Event{done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))

	// Duplicate completion must not drive the gauge negative.
	require.NoError(t, sink.Consume(context.Background(), []events.Event{done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

func TestPrometheusSinkCountsServicesAndRetries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	registered := evt(events.StageServiceRegistered, id)
	registered.Service = "database"
	registered.Kind = "factory"
	registered.Attempts = 3
	registered.Dur = 5 * time.Millisecond

	health := evt(events.StageHealthCheck, id)
	health.Service = "database"
	health.Healthy = true

	require.NoError(t, sink.Consume(context.Background(), []events.Event{registered, health}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.servicesRegistered.WithLabelValues("factory")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.retryAttempts))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.healthChecks.WithLabelValues("true")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
