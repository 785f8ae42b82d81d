package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// HealthResult is the point-in-time outcome of one service probe. Probe
// failures are folded into the result instead of propagating, so a best-effort
// health pass can always complete.
type HealthResult struct {
	ServiceName string        `json:"service_name"`
	Healthy     bool          `json:"healthy"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Probe runs the instance's health hook bounded by timeout. Instances without
// a probe are assumed healthy. Errors, timeouts, and panics inside the hook
// become unhealthy results rather than bubbling up.
func Probe(ctx context.Context, name string, hooks Hooks, timeout time.Duration, now time.Time) HealthResult {
	result := HealthResult{ServiceName: name, Healthy: true, Timestamp: now}
	if !hooks.HasHealth() {
		return result
	}
	start := time.Now()
	err := Race(ctx, name, "health check", timeout, func(ctx context.Context) (probeErr error) {
		defer func() {
			if r := recover(); r != nil {
				probeErr = fmt.Errorf("health check panicked: %v", r)
			}
		}()
		return hooks.Health(ctx)
	})
	result.Latency = time.Since(start)
	if err != nil {
		result.Healthy = false
		result.Error = err.Error()
	}
	return result
}
