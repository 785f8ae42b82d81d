package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func stamped(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Stage: stage,
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	evt := stamped(StageRegistrationStart)
	require.NoError(t, evt.Validate())

	phaseEvt := stamped(StagePhaseChange)
	phaseEvt.Phase = "initializing"
	require.NoError(t, phaseEvt.Validate())

	svcEvt := stamped(StageServiceRegistered)
	svcEvt.Service = "database"
	require.NoError(t, svcEvt.Validate())
}

func TestEventValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing run id", func(e *Event) { e.RunID = [16]byte{} }},
		{"missing timestamp", func(e *Event) { e.TS = time.Time{} }},
		{"unknown stage", func(e *Event) { e.Stage = "BOGUS" }},
		{"phase change without phase", func(e *Event) { e.Stage = StagePhaseChange; e.Phase = "" }},
		{"service event without service", func(e *Event) { e.Stage = StageHealthCheck; e.Service = "" }},
		{"negative duration", func(e *Event) { e.Dur = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := stamped(StageRegistrationDone)
			tc.mutate(&evt)
			require.Error(t, evt.Validate())
		})
	}
}

func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{RunID: UUIDToBytes(id)}
	require.Equal(t, id, evt.RunUUID())
}
