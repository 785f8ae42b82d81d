package registrar

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/servicegraph/internal/factory"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/registry"
)

// ServiceMetric records how one definition fared during a run.
type ServiceMetric struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Attempts   int             `json:"attempts"`
	Duration   time.Duration   `json:"duration"`
	Registered bool            `json:"registered"`
	Critical   bool            `json:"critical"`
	State      lifecycle.State `json:"state,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Summary aggregates one run.
type Summary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	Duration    time.Duration `json:"duration"`
	Phase       Phase         `json:"phase"`
}

// Report is the immutable outcome of one orchestration run.
type Report struct {
	RunID         uuid.UUID                `json:"run_id"`
	Summary       Summary                  `json:"summary"`
	Services      []ServiceMetric          `json:"services"`
	Health        []lifecycle.HealthResult `json:"health"`
	FactoryStats  factory.Stats            `json:"factory_stats"`
	RegistryStats registry.Stats           `json:"registry_stats"`
	Timestamp     time.Time                `json:"timestamp"`
}

// Error is the single error shape surfaced at the orchestrator boundary. The
// report reflects everything the run accomplished before failing.
type Error struct {
	Message string
	Phase   Phase
	Report  *Report
	Cause   error
}

// Error renders the phase, message, and cause.
func (e *Error) Error() string {
	msg := fmt.Sprintf("registration failed in phase %q: %s", e.Phase, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}
