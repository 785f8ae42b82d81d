// Package factory turns service definitions plus resolved dependencies into
// live instances. It owns the construction polymorphism (factory function,
// constructible type, literal value), instance validation, lifecycle
// bookkeeping, and the bounded optional initializer.
package factory

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/clock/system"
	"github.com/JakeFAU/servicegraph/internal/lifecycle"
	"github.com/JakeFAU/servicegraph/internal/service"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Factory builds service instances. Creation statistics are owned per
// Factory value, so independent orchestrators never share counters.
type Factory struct {
	tracker *lifecycle.Tracker
	logger  *zap.Logger
	clock   service.Clock
	stats   *creationStats
}

// New wires a Factory to the shared lifecycle side table.
func New(logger *zap.Logger, tracker *lifecycle.Tracker, clock service.Clock) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = lifecycle.NewTracker()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Factory{
		tracker: tracker,
		logger:  logger,
		clock:   clock,
		stats:   newCreationStats(),
	}
}

// CreateService constructs one instance for def using deps, given in the
// definition's declared dependency order. The instance is validated against
// the definition's tags, recorded in the lifecycle side table, and run
// through its optional initializer bounded by def.Timeout. Every failure mode
// comes back as a single creation-failed error carrying the cause, the
// service name, and the kind.
func (f *Factory) CreateService(ctx context.Context, def service.Definition, deps []any) (any, error) {
	start := time.Now()
	f.stats.attempt(def.Kind)

	instance, err := f.construct(ctx, def, deps)
	if err == nil {
		err = f.validateInstance(def, instance)
	}
	if err == nil && instance != nil {
		hooks := lifecycle.Detect(instance)
		f.tracker.Track(def.Name, def.Kind, f.clock.Now(), hooks)
		err = f.initialize(ctx, def, instance, hooks)
	}

	elapsed := time.Since(start)
	if err != nil {
		f.stats.failure(def.Kind, elapsed)
		f.logger.Debug("service creation failed",
			zap.String("service", def.Name),
			zap.Stringer("kind", def.Kind),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, service.NewCreationFailed(def.Name, def.Kind, err)
	}
	f.stats.success(def.Kind, elapsed)
	return instance, nil
}

// Stats snapshots the running creation statistics.
func (f *Factory) Stats() Stats {
	return f.stats.snapshot()
}

// ResetStats clears the running creation statistics.
func (f *Factory) ResetStats() {
	f.stats.reset()
}

func (f *Factory) construct(ctx context.Context, def service.Definition, deps []any) (any, error) {
	switch def.Kind {
	case service.KindFactory:
		return f.invokeFactory(ctx, def, deps)
	case service.KindConstructor:
		return f.constructType(def, deps)
	case service.KindValue:
		return def.Impl, nil
	default:
		return nil, fmt.Errorf("unknown construction kind %d", int(def.Kind))
	}
}

// invokeFactory calls def.Impl with the resolved dependencies as arguments.
// A leading context.Context parameter receives ctx; a trailing error result
// is unwrapped. Nil results fail construction.
func (f *Factory) invokeFactory(ctx context.Context, def service.Definition, deps []any) (any, error) {
	fn := reflect.ValueOf(def.Impl)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("factory implementation is not a function")
	}
	fnType := fn.Type()

	args := make([]reflect.Value, 0, fnType.NumIn())
	next := 0
	if fnType.NumIn() > 0 && fnType.In(0) == contextType {
		args = append(args, reflect.ValueOf(ctx))
		next = 1
	}
	want := fnType.NumIn() - next
	if want != len(deps) && !fnType.IsVariadic() {
		return nil, fmt.Errorf("factory expects %d dependencies, got %d", want, len(deps))
	}
	for i, dep := range deps {
		paramType := variadicAware(fnType, next+i)
		arg, err := coerce(dep, paramType)
		if err != nil {
			return nil, fmt.Errorf("dependency %d (%s): %w", i, def.Dependencies[i], err)
		}
		args = append(args, arg)
	}

	results := fn.Call(args)
	switch len(results) {
	case 1:
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("factory second return value must be error, got %s", fnType.Out(1))
		}
		if !results[1].IsNil() {
			return nil, results[1].Interface().(error)
		}
	default:
		return nil, fmt.Errorf("factory must return (instance) or (instance, error), got %d values", len(results))
	}
	instance := results[0].Interface()
	if instance == nil || isNilValue(results[0]) {
		return nil, fmt.Errorf("factory returned no instance")
	}
	return instance, nil
}

// constructType allocates the struct described by def.Impl and injects each
// resolved dependency into the field tagged service:"<name>".
func (f *Factory) constructType(def service.Definition, deps []any) (any, error) {
	structType, err := structTypeOf(def.Impl)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(structType)
	elem := ptr.Elem()

	fieldByDep := make(map[string]int, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		if tag, ok := structType.Field(i).Tag.Lookup("service"); ok && tag != "" {
			fieldByDep[tag] = i
		}
	}
	for i, depName := range def.Dependencies {
		idx, ok := fieldByDep[depName]
		if !ok {
			return nil, fmt.Errorf("no field tagged service:%q on %s", depName, structType)
		}
		field := elem.Field(idx)
		if !field.CanSet() {
			return nil, fmt.Errorf("field for dependency %q on %s is unexported", depName, structType)
		}
		value, err := coerce(deps[i], field.Type())
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", depName, err)
		}
		field.Set(value)
	}
	return ptr.Interface(), nil
}

// validateInstance enforces Tags.RequiredMethods and Tags.RequiredProperties.
func (f *Factory) validateInstance(def service.Definition, instance any) error {
	if len(def.Tags.RequiredMethods) == 0 && len(def.Tags.RequiredProperties) == 0 {
		return nil
	}
	if instance == nil {
		return fmt.Errorf("cannot validate members of a nil instance")
	}
	v := reflect.ValueOf(instance)
	for _, method := range def.Tags.RequiredMethods {
		if !v.MethodByName(method).IsValid() {
			return fmt.Errorf("required method %q is missing", method)
		}
	}
	for _, prop := range def.Tags.RequiredProperties {
		if !hasProperty(v, prop) {
			return fmt.Errorf("required property %q is missing", prop)
		}
	}
	return nil
}

// initialize runs the tag-supplied custom initializer if present, otherwise
// the instance's own Initialize hook, raced against def.Timeout. Failure or
// timeout marks the side-table record init_failed and fails creation.
func (f *Factory) initialize(ctx context.Context, def service.Definition, instance any, hooks lifecycle.Hooks) error {
	var run func(ctx context.Context) error
	switch {
	case def.Tags.CustomInitializer != nil:
		custom := def.Tags.CustomInitializer
		run = func(ctx context.Context) error { return custom(ctx, instance) }
	case hooks.HasInit():
		run = hooks.Init
	default:
		if def.Tags.HasInitializer {
			f.logger.Warn("definition expects an initializer but none was found",
				zap.String("service", def.Name))
		}
		return nil
	}

	if err := lifecycle.Race(ctx, def.Name, "initializer", def.Timeout, run); err != nil {
		f.tracker.SetState(def.Name, lifecycle.StateInitFailed)
		return fmt.Errorf("initializer: %w", err)
	}
	f.tracker.MarkInitialized(def.Name, f.clock.Now())
	return nil
}

// structTypeOf accepts a struct value, a pointer to struct, or a
// reflect.Type, and returns the underlying struct type.
func structTypeOf(impl any) (reflect.Type, error) {
	var t reflect.Type
	switch impl := impl.(type) {
	case reflect.Type:
		t = impl
	default:
		t = reflect.TypeOf(impl)
	}
	if t == nil {
		return nil, fmt.Errorf("constructor implementation is nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a constructible struct type", t)
	}
	return t, nil
}

// coerce adapts a resolved dependency to the parameter or field type.
func coerce(dep any, target reflect.Type) (reflect.Value, error) {
	if dep == nil {
		switch target.Kind() {
		case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(target), nil
		default:
			return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", target)
		}
	}
	v := reflect.ValueOf(dep)
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	if v.Type().ConvertibleTo(target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), target)
}

func variadicAware(fnType reflect.Type, index int) reflect.Type {
	if fnType.IsVariadic() && index >= fnType.NumIn()-1 {
		return fnType.In(fnType.NumIn() - 1).Elem()
	}
	return fnType.In(index)
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

func hasProperty(v reflect.Value, name string) bool {
	if v.MethodByName(name).IsValid() {
		return true
	}
	elem := v
	for elem.Kind() == reflect.Ptr {
		if elem.IsNil() {
			return false
		}
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return false
	}
	return elem.FieldByName(name).IsValid()
}
