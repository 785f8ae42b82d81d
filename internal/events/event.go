package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of lifecycle milestone an Event represents.
type Stage string

// Supported event stages.
const (
	StageRegistrationStart Stage = "REGISTRATION_START"
	StagePhaseChange       Stage = "PHASE_CHANGE"
	StageServiceRegistered Stage = "SERVICE_REGISTERED"
	StageHealthCheck       Stage = "HEALTH_CHECK"
	StageRegistrationDone  Stage = "REGISTRATION_DONE"
	StageRegistrationError Stage = "REGISTRATION_ERROR"
)

// Event is one structured lifecycle notification. It is a plain record;
// consumers decide how to log, count, or persist it.
type Event struct {
	// RunID identifies one orchestration run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Service scopes service-level events to one definition name.
	Service string
	// Kind labels the service's construction kind for registered events.
	Kind string
	// Phase carries the registrar phase for phase-change events.
	Phase string
	// Healthy carries the probe outcome for health-check events.
	Healthy bool
	// Success carries the run outcome for completion events.
	Success bool
	// Attempts counts construction attempts including retries.
	Attempts int
	// Dur captures latency for service registrations and whole runs.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRegistrationStart, StageRegistrationDone, StageRegistrationError:
	case StagePhaseChange:
		if e.Phase == "" {
			return errors.New("phase change requires phase")
		}
	case StageServiceRegistered, StageHealthCheck:
		if e.Service == "" {
			return fmt.Errorf("%s requires service", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for sinks and reports.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
