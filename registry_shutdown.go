package modreg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Deactivate shuts a module down gracefully. Dependents that are Active or
// Initialized are deactivated first, deepest first. Deactivating a module
// that is already Deactivated is a no-op.
func (r *Registry) Deactivate(ctx context.Context, key string) error {
	inst, err := r.lookup(key)
	if err != nil {
		return err
	}
	// From here on the module satisfies no dependency, so a dependent cannot
	// start on top of it while the shutdown runs.
	inst.stopping.Add(1)
	defer inst.stopping.Add(-1)

	var errs []error
	for _, dep := range r.shutdownOrder(r.graph(nil).Dependents(key)) {
		d, err := r.lookup(dep)
		if err != nil {
			continue
		}
		if err := r.deactivateIf(ctx, d, "dependency "+key+" deactivated", StateActive, StateInitialized); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.deactivateInstance(ctx, inst, "deactivate"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DeactivateAll shuts every Active or Initialized module down in reverse
// dependency order. It is meant for process shutdown and keeps going past
// individual failures.
func (r *Registry) DeactivateAll(ctx context.Context) error {
	var keys []string
	for _, inst := range r.all() {
		if st := inst.currentState(); st == StateActive || st == StateInitialized {
			keys = append(keys, inst.key())
		}
	}
	r.logger.Info("Deactivating modules", "count", len(keys))

	var errs []error
	for _, key := range r.shutdownOrder(keys) {
		inst, err := r.lookup(key)
		if err != nil {
			continue
		}
		if err := r.deactivateInstance(ctx, inst, "shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		r.logger.Error("Deactivation finished with errors", "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Unregister removes a module. Every transitive dependent is forced to
// Deactivated first, then the module itself is deactivated if needed and
// dropped. Capabilities it resolved pass to the lexically smallest
// alternate, if any. Deactivation errors are returned but do not stop the
// removal.
func (r *Registry) Unregister(ctx context.Context, key string) error {
	inst, err := r.lookup(key)
	if err != nil {
		return err
	}

	inst.stopping.Add(1)
	defer inst.stopping.Add(-1)

	var errs []error
	for _, dep := range r.shutdownOrder(r.graph(nil).Dependents(key)) {
		d, err := r.lookup(dep)
		if err != nil {
			continue
		}
		if err := r.deactivateIf(ctx, d, "dependency "+key+" unregistered", StateActive, StateInitialized, StateConfigured); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.deactivateIf(ctx, inst, "unregister", StateActive, StateInitialized); err != nil {
		errs = append(errs, err)
	}

	inst.op.Lock()
	r.mu.Lock()
	if r.instances[key] == inst {
		delete(r.instances, key)
		r.releaseCapabilitiesLocked(inst, nil)
	}
	r.mu.Unlock()
	from := inst.currentState()
	inst.op.Unlock()

	r.metrics.ForgetModule(key)
	r.logger.Info("Unregistered module", "module", key)
	r.emit(ctx, EventTypeModuleUnregistered, ModuleEventData{Module: key, From: from.String()})
	return errors.Join(errs...)
}

// deactivateInstance moves inst to Deactivated, calling the module's
// Deactivate step if it had been initialized.
func (r *Registry) deactivateInstance(ctx context.Context, inst *instance, cause string) error {
	inst.op.Lock()
	inst.busy.Store(true)
	defer func() {
		inst.busy.Store(false)
		inst.op.Unlock()
	}()
	return r.deactivateLocked(ctx, inst, cause)
}

// deactivateIf is deactivateInstance restricted to modules that are in one of
// states once the step lock is held; any other state is left alone.
func (r *Registry) deactivateIf(ctx context.Context, inst *instance, cause string, states ...State) error {
	inst.op.Lock()
	inst.busy.Store(true)
	defer func() {
		inst.busy.Store(false)
		inst.op.Unlock()
	}()
	if !slices.Contains(states, inst.currentState()) {
		return nil
	}
	return r.deactivateLocked(ctx, inst, cause)
}

// deactivateLocked runs with inst.op held.
func (r *Registry) deactivateLocked(ctx context.Context, inst *instance, cause string) error {
	key := inst.key()
	switch st := inst.currentState(); st {
	case StateDeactivated:
		return nil
	case StateActive, StateInitialized:
		if err := r.runStep(ctx, key, "deactivate", inst.module.Deactivate); err != nil {
			stepErr := fmt.Errorf("%w: %q: %w", ErrDeactivationFailure, key, err)
			if tErr := r.setState(ctx, inst, StateFailed, cause, stepErr); tErr != nil {
				return tErr
			}
			return stepErr
		}
	case StateConfigured:
	default:
		return checkTransition(key, st, StateDeactivated)
	}
	return r.setState(ctx, inst, StateDeactivated, cause, nil)
}

// shutdownOrder returns keys with dependents before their dependencies.
// Keys caught in a cycle come first, in descending key order.
func (r *Registry) shutdownOrder(keys []string) []string {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	order, err := TopologicalOrder(r.graph(func(i *instance) bool { return set[i.key()] }))
	if err != nil {
		placed := make(map[string]bool, len(order))
		for _, k := range order {
			placed[k] = true
		}
		var rest []string
		for k := range set {
			if !placed[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		order = append(order, rest...)
	}
	slices.Reverse(order)
	return order
}
