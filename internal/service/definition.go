package service

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Kind selects how an implementation is turned into an instance.
type Kind int

// Supported construction kinds.
const (
	// KindFactory invokes Impl as a function with resolved dependencies
	// as arguments.
	KindFactory Kind = iota
	// KindConstructor allocates Impl as a struct and injects resolved
	// dependencies into tagged fields.
	KindConstructor
	// KindValue returns Impl unchanged.
	KindValue
)

// String returns the label used in logs, metrics, and error messages.
func (k Kind) String() string {
	switch k {
	case KindFactory:
		return "factory"
	case KindConstructor:
		return "constructor"
	case KindValue:
		return "value"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Initializer is a caller-supplied hook applied to a freshly built instance.
type Initializer func(ctx context.Context, instance any) error

// Tags carries optional construction-time requirements for a definition.
type Tags struct {
	// RequiredMethods must all resolve to callable methods on the instance.
	RequiredMethods []string
	// RequiredProperties must all resolve to fields or methods on the instance.
	RequiredProperties []string
	// CustomInitializer runs instead of the instance's own Initialize hook.
	CustomInitializer Initializer
	// HasInitializer hints that the instance is expected to expose Initialize.
	HasInitializer bool
}

// Definition is the immutable, startup-time description of one service.
type Definition struct {
	Name         string
	Kind         Kind
	Impl         any
	Dependencies []string
	// Priority breaks ordering ties; lower values register earlier.
	Priority int
	// Critical services are eagerly constructed right after registration.
	Critical bool
	// Async hints that construction may block on external work.
	Async bool
	Tags  Tags
	// Timeout bounds construction plus initialization for this service.
	Timeout time.Duration
}

// Validate rejects definitions the factory could never construct.
func (d Definition) Validate() error {
	if d.Name == "" {
		return NewValidationFailed("", "definition name is empty", nil)
	}
	switch d.Kind {
	case KindFactory:
		if d.Impl == nil || reflect.TypeOf(d.Impl).Kind() != reflect.Func {
			return NewValidationFailed(d.Name, "factory implementation is not a function", nil)
		}
	case KindConstructor:
		if d.Impl == nil {
			return NewValidationFailed(d.Name, "constructor implementation is nil", nil)
		}
	case KindValue:
		// Any value, including nil interfaces, is acceptable as-is.
	default:
		return NewValidationFailed(d.Name, fmt.Sprintf("unknown kind %d", int(d.Kind)), nil)
	}
	for _, dep := range d.Dependencies {
		if dep == "" {
			return NewValidationFailed(d.Name, "dependency name is empty", nil)
		}
		if dep == d.Name {
			// A one-node cycle, reported the same way longer ones are.
			return NewCircularDependency([]string{d.Name, d.Name})
		}
	}
	return nil
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
