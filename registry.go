package modreg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// Registry is the concurrency-safe store of module instances. It is the only
// component other code talks to. Construct one per process with NewRegistry
// and pass it (or a narrower interface) to whatever needs it.
//
// Locking: mu guards the instance index and capability resolution and is
// never held while module code runs. Each instance serializes its own
// lifecycle steps, so steps on different modules proceed independently.
type Registry struct {
	subject

	mu        sync.RWMutex
	instances map[string]*instance
	resolved  map[string]string // capability → provider key

	contracts *contractSet
	validator *Validator

	logger        Logger
	metrics       MetricsRecorder
	now           func() time.Time
	batchTimeout  time.Duration
	healthTimeout time.Duration
	historyLimit  int

	pendingContracts []CapabilityContract
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	contracts := newContractSet()
	r := &Registry{
		instances:     make(map[string]*instance),
		resolved:      make(map[string]string),
		contracts:     contracts,
		validator:     &Validator{contracts: contracts},
		logger:        NopLogger{},
		metrics:       nopMetrics{},
		now:           time.Now,
		healthTimeout: 2 * time.Second,
		historyLimit:  32,
	}
	r.subject.logger = func() Logger { return r.logger }
	for _, opt := range opts {
		opt(r)
	}
	for _, c := range r.pendingContracts {
		if err := r.RegisterContract(c); err != nil {
			r.logger.Warn("Skipping capability contract", "capability", c.Name, "error", err)
		}
	}
	r.pendingContracts = nil
	return r
}

// Validator returns the validator used by the registry.
func (r *Registry) Validator() *Validator { return r.validator }

// RegisterContract adds a capability contract. Modules registered afterwards
// that declare the capability are checked against it.
func (r *Registry) RegisterContract(c CapabilityContract) error {
	return r.contracts.add(c)
}

// Contracts returns the registered contracts sorted by name.
func (r *Registry) Contracts() []CapabilityContract {
	return r.contracts.list()
}

// Register validates the module's manifest and stores it in state
// Registered. With WithConfig the Configured transition is attempted
// immediately; a configuration failure is returned as a *ConfigError
// together with the key, and the instance stays registered.
//
// With WithReplace an Initialized predecessor is deactivated first. If its
// Deactivate fails the replacement still happens and the error is returned
// with the key.
func (r *Registry) Register(ctx context.Context, module Module, opts ...RegisterOption) (string, error) {
	if module == nil {
		return "", fmt.Errorf("register: %w", ErrNilModule)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	manifest := module.Manifest().clone()
	key := manifest.Key
	res := r.validator.ValidateManifest(manifest, module)
	if !res.Valid {
		r.logger.Error("Rejected module manifest", "module", key, "errors", joinValidationErrors(res.Errors))
		return "", &ManifestError{Key: key, Result: res}
	}

	// An initialized predecessor is shut down before it is swapped out; the
	// step runs without r.mu held.
	var replaceErr error
	if o.replace {
		r.mu.RLock()
		prev, ok := r.instances[key]
		r.mu.RUnlock()
		if ok {
			if err := r.deactivateIf(ctx, prev, "replaced", StateInitialized); err != nil {
				r.logger.Warn("Replaced module failed to deactivate", "module", key, "error", err)
				replaceErr = err
			}
		}
	}

	r.mu.Lock()
	existing, exists := r.instances[key]
	if exists {
		if !o.replace {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		if existing.busy.Load() || existing.currentState() == StateActive {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %q cannot be replaced: %w", ErrDuplicateKey, key, ErrModuleActive)
		}
	}

	res.Merge(r.validator.ValidateDependencies(manifest, func(k string) bool {
		_, ok := r.instances[k]
		return ok
	}, false))
	r.warnOnCycle(&res, manifest)

	inst := &instance{
		manifest:       manifest,
		module:         module,
		state:          StateRegistered,
		lastValidation: res,
		registeredAt:   r.now(),
	}
	if exists {
		r.releaseCapabilitiesLocked(existing, &manifest)
	}
	r.claimCapabilitiesLocked(inst, o.replace, &res)
	inst.lastValidation = res
	r.instances[key] = inst
	r.mu.Unlock()

	r.metrics.ObserveTransition(key, StateRegistered, StateRegistered)
	r.logger.Info("Registered module", "module", key, "version", manifest.Version,
		"capabilities", manifest.Capabilities, "replaced", exists)
	for _, w := range res.Warnings {
		r.logger.Warn("Module manifest warning", "module", key, "code", w.Code, "message", w.Message)
	}
	r.emit(ctx, EventTypeModuleRegistered, ModuleEventData{Module: key, To: StateRegistered.String()})

	if o.config != nil {
		if _, err := r.Configure(ctx, key, o.config); err != nil {
			if replaceErr != nil {
				err = errors.Join(replaceErr, err)
			}
			return key, err
		}
	}
	return key, replaceErr
}

// warnOnCycle adds a warning if registering m closes a dependency cycle.
// Cycles are only fatal at InitializeAll, where the full graph is known.
func (r *Registry) warnOnCycle(res *ValidationResult, m Manifest) {
	g := make(Graph, len(r.instances)+1)
	for k, inst := range r.instances {
		g[k] = inst.manifest.Dependencies
	}
	g[m.Key] = m.Dependencies
	_, err := TopologicalOrder(g)
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) && slices.Contains(cycleErr.Members(), m.Key) {
		res.AddWarning(CodeDependencyCycle, "dependencies", "module %q is part of a dependency cycle: %v", m.Key, cycleErr.Cycles)
	}
}

// claimCapabilitiesLocked makes inst the resolved provider of each declared
// capability that has none. With replace it also takes over capabilities
// whose current provider is not Active.
func (r *Registry) claimCapabilitiesLocked(inst *instance, replace bool, res *ValidationResult) {
	key := inst.key()
	for _, capability := range inst.manifest.Capabilities {
		current, ok := r.resolved[capability]
		if !ok || current == key {
			r.resolved[capability] = key
			continue
		}
		provider := r.instances[current]
		if replace && (provider == nil || !provider.available()) {
			r.resolved[capability] = key
			r.logger.Info("Capability provider replaced", "capability", capability, "previous", current, "module", key)
			continue
		}
		res.AddWarning(CodeCapabilityProvided, "capabilities",
			"capability %q is already provided by %q; %q is registered as an alternate", capability, current, key)
	}
}

// releaseCapabilitiesLocked removes old as resolved provider. Capabilities
// the successor manifest still declares are left for the caller to claim;
// every other one passes to the lexically smallest alternate.
func (r *Registry) releaseCapabilitiesLocked(old *instance, successor *Manifest) {
	for _, capability := range old.manifest.Capabilities {
		if r.resolved[capability] != old.key() {
			continue
		}
		delete(r.resolved, capability)
		if successor != nil && successor.Provides(capability) {
			continue
		}
		var candidates []string
		for k, inst := range r.instances {
			if k != old.key() && inst.manifest.Provides(capability) {
				candidates = append(candidates, k)
			}
		}
		if len(candidates) > 0 {
			sort.Strings(candidates)
			r.resolved[capability] = candidates[0]
			r.logger.Info("Capability provider promoted", "capability", capability, "module", candidates[0])
		}
	}
}

// Configure validates cfg against the module's schema and, if it is
// accepted by both the schema and the module, moves the module to
// Configured. Legal from Registered, Deactivated and Failed. On any
// failure the module keeps its prior state and the returned result
// describes why.
func (r *Registry) Configure(ctx context.Context, key string, cfg Config) (ValidationResult, error) {
	inst, err := r.lookup(key)
	if err != nil {
		return ValidationResult{}, err
	}
	inst.op.Lock()
	inst.busy.Store(true)
	defer func() {
		inst.busy.Store(false)
		inst.op.Unlock()
	}()

	from := inst.currentState()
	if err := checkTransition(key, from, StateConfigured); err != nil {
		return ValidationResult{}, err
	}

	if cfg == nil {
		cfg = Config{}
	}
	schema := inst.manifest.ConfigSchema
	res := r.validator.ValidateConfig(schema, cfg)
	if !res.Valid {
		inst.setValidation(res)
		r.logger.Warn("Configuration rejected", "module", key, "errors", joinValidationErrors(res.Errors))
		return res, &ConfigError{Key: key, Result: res}
	}

	applied := schema.ApplyDefaults(cfg)
	if err := r.runStep(ctx, key, "configure", func(ctx context.Context) error {
		return inst.module.Configure(ctx, applied)
	}); err != nil {
		res.AddError(CodeConfigRejected, "", "module rejected configuration: %v", err)
		inst.setValidation(res)
		r.logger.Warn("Configuration rejected by module", "module", key, "error", err)
		return res, &ConfigError{Key: key, Result: res, Cause: err}
	}

	inst.mu.Lock()
	inst.appliedConfig = applied
	inst.lastValidation = res
	inst.mu.Unlock()
	if err := r.setState(ctx, inst, StateConfigured, "configure", nil); err != nil {
		return res, err
	}
	return res, nil
}

// GetByCapability returns the resolved provider for a capability if it is
// cleanly Active. A missing capability means "not currently available".
func (r *Registry) GetByCapability(name string) (any, bool) {
	r.mu.RLock()
	key, ok := r.resolved[name]
	inst := r.instances[key]
	r.mu.RUnlock()
	if !ok || inst == nil || !inst.available() {
		return nil, false
	}
	return implementationFor(inst.module, name), true
}

// Lookup is a typed GetByCapability.
func Lookup[T any](r *Registry, capability string) (T, bool) {
	var zero T
	impl, ok := r.GetByCapability(capability)
	if !ok {
		return zero, false
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ResolvedProvider returns the key of the resolved provider of capability,
// whatever its state.
func (r *Registry) ResolvedProvider(capability string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.resolved[capability]
	return key, ok
}

// Providers returns every key declaring capability; the resolved provider
// comes first, alternates follow in ascending order.
func (r *Registry) Providers(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved := r.resolved[capability]
	var alternates []string
	for k, inst := range r.instances {
		if k != resolved && inst.manifest.Provides(capability) {
			alternates = append(alternates, k)
		}
	}
	sort.Strings(alternates)
	if resolved == "" {
		return alternates
	}
	return append([]string{resolved}, alternates...)
}

// Instance returns a snapshot of one module instance.
func (r *Registry) Instance(key string) (InstanceInfo, bool) {
	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if !ok {
		return InstanceInfo{}, false
	}
	info := inst.snapshot()
	info.Resolved = r.resolvedBy(key)
	return info, true
}

// State returns the current state of key.
func (r *Registry) State(key string) (State, bool) {
	inst, err := r.lookup(key)
	if err != nil {
		return 0, false
	}
	return inst.currentState(), true
}

// List returns snapshots of all instances sorted by key.
func (r *Registry) List() []InstanceInfo {
	insts := r.all()
	out := make([]InstanceInfo, 0, len(insts))
	for _, inst := range insts {
		info := inst.snapshot()
		info.Resolved = r.resolvedBy(inst.key())
		out = append(out, info)
	}
	return out
}

// Keys returns every registered key in ascending order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Order returns the activation order of every registered module without
// changing any state. It fails with a *CycleError if the graph has cycles.
func (r *Registry) Order() ([]string, error) {
	return TopologicalOrder(r.graph(nil))
}

// ReportHealth stores a self-report pushed by a module that does not
// implement HealthChecker. It is combined with registry facts on the next
// health evaluation.
func (r *Registry) ReportHealth(key string, report HealthReport) error {
	inst, err := r.lookup(key)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.pushedHealth = &report
	inst.mu.Unlock()
	return nil
}

func (r *Registry) lookup(key string) (*instance, error) {
	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, key)
	}
	return inst, nil
}

// all returns every instance sorted by key.
func (r *Registry) all() []*instance {
	r.mu.RLock()
	out := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func (r *Registry) resolvedBy(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var caps []string
	for capability, k := range r.resolved {
		if k == key {
			caps = append(caps, capability)
		}
	}
	sort.Strings(caps)
	return caps
}

// graph returns the dependency graph restricted to keys accepted by
// include; a nil include keeps every instance.
func (r *Registry) graph(include func(*instance) bool) Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := make(Graph, len(r.instances))
	for k, inst := range r.instances {
		if include == nil || include(inst) {
			g[k] = inst.manifest.Dependencies
		}
	}
	return g
}

// setState performs a checked transition and publishes it.
func (r *Registry) setState(ctx context.Context, inst *instance, to State, cause string, stepErr error) error {
	key := inst.key()
	inst.mu.Lock()
	from := inst.state
	if err := checkTransition(key, from, to); err != nil {
		inst.mu.Unlock()
		return err
	}
	at := r.now()
	inst.state = to
	if to == StateFailed {
		inst.lastErr = stepErr
	} else {
		inst.lastErr = nil
	}
	inst.history = append(inst.history, Transition{From: from, To: to, At: at, Cause: cause})
	if over := len(inst.history) - r.historyLimit; over > 0 {
		inst.history = slices.Delete(inst.history, 0, over)
	}
	inst.mu.Unlock()

	r.metrics.ObserveTransition(key, from, to)
	data := ModuleEventData{Module: key, From: from.String(), To: to.String(), Cause: cause}
	if stepErr != nil {
		data.Error = stepErr.Error()
		r.logger.Error("Module transition", "module", key, "from", from, "to", to, "cause", cause, "error", stepErr)
	} else {
		r.logger.Debug("Module transition", "module", key, "from", from, "to", to, "cause", cause)
	}
	r.emit(ctx, eventTypeFor(to), data)
	return nil
}

func eventTypeFor(s State) string {
	switch s {
	case StateConfigured:
		return EventTypeModuleConfigured
	case StateInitialized:
		return EventTypeModuleInitialized
	case StateActive:
		return EventTypeModuleActivated
	case StateDeactivated:
		return EventTypeModuleDeactivated
	case StateFailed:
		return EventTypeModuleFailed
	default:
		return EventTypeModuleRegistered
	}
}

// runStep calls one of the module's lifecycle functions, converting panics
// to errors and returning early when ctx is done. A step that ignores ctx
// keeps running in its goroutine until it returns; its result is dropped.
func (r *Registry) runStep(ctx context.Context, key, step string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("%w: %s of %q: %v", ErrStepPanicked, step, key, p)
			}
		}()
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s of %q: %w", step, key, ctx.Err())
	}
}
