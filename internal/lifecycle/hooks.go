package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// Initializer is the optional async initializer hook.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// HealthChecker is the plain health probe shape.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DetailedHealthChecker is the probe shape that reports health explicitly.
type DetailedHealthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
}

// Disposer is the preferred teardown hook.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// Closer is the io.Closer-style teardown fallback.
type Closer interface {
	Close() error
}

// Cleaner is the last teardown fallback.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Hooks caches the capabilities detected on one instance. Detection runs once
// at registration time; nil members mean the capability is absent.
type Hooks struct {
	Init     func(ctx context.Context) error
	Health   func(ctx context.Context) error
	Teardown func(ctx context.Context) error
	// TeardownName records which hook was selected: dispose, close, or cleanup.
	TeardownName string
}

// HasInit reports whether the instance exposed an initializer.
func (h Hooks) HasInit() bool { return h.Init != nil }

// HasHealth reports whether the instance exposed a health probe.
func (h Hooks) HasHealth() bool { return h.Health != nil }

// HasTeardown reports whether any teardown hook was found.
func (h Hooks) HasTeardown() bool { return h.Teardown != nil }

// Detect inspects an instance for optional hooks. Teardown uses the first
// match of Dispose, Close, Cleanup, in that order.
func Detect(instance any) Hooks {
	var hooks Hooks
	if instance == nil {
		return hooks
	}
	if init, ok := instance.(Initializer); ok {
		hooks.Init = init.Initialize
	}
	switch probe := instance.(type) {
	case HealthChecker:
		hooks.Health = probe.HealthCheck
	case DetailedHealthChecker:
		hooks.Health = func(ctx context.Context) error {
			healthy, err := probe.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !healthy {
				return fmt.Errorf("probe reported unhealthy")
			}
			return nil
		}
	}
	switch td := instance.(type) {
	case Disposer:
		hooks.Teardown = td.Dispose
		hooks.TeardownName = "dispose"
	case Closer:
		hooks.Teardown = func(context.Context) error { return td.Close() }
		hooks.TeardownName = "close"
	case Cleaner:
		hooks.Teardown = td.Cleanup
		hooks.TeardownName = "cleanup"
	}
	return hooks
}

// Race runs fn bounded by timeout. The operation is raced rather than
// cooperatively cancelled: a hook that ignores its context still cannot stall
// the caller past the bound. A non-positive timeout runs fn inline.
func Race(ctx context.Context, name, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(bounded)
	}()
	select {
	case err := <-done:
		return err
	case <-bounded.Done():
		return service.NewTimeout(name, op, bounded.Err())
	}
}
