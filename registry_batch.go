package modreg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// batchEventData is the payload of batch.* events.
type batchEventData struct {
	Outcomes map[Outcome]int `json:"outcomes"`
	Order    []string        `json:"order"`
	TimedOut bool            `json:"timedOut,omitempty"`
	Cycles   [][]string      `json:"cycles,omitempty"`
}

func (r *Registry) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.batchTimeout > 0 {
		return context.WithTimeout(ctx, r.batchTimeout)
	}
	return context.WithCancel(ctx)
}

// InitializeAll initializes every Configured module in dependency order.
// Already Active modules count as satisfied dependencies.
//
// A dependency cycle among modules that are not yet initialized, configured
// or not, aborts the call before any module is touched; the report lists
// the cycles and the error is a *CycleError. Otherwise a
// failing module is moved to Failed and everything that depends on it is
// reported Blocked, while independent branches carry on. A returned error
// other than a cycle means the batch timed out; the report says how far it
// got.
func (r *Registry) InitializeAll(ctx context.Context) (*InitializationReport, error) {
	ctx, cancel := r.batchContext(ctx)
	defer cancel()

	report := &InitializationReport{BatchReport: newBatchReport(r.now())}
	insts := make(map[string]*instance)
	all := make(map[string]*instance)
	g := make(Graph)
	// pending holds every module not yet initialized; cycles are looked for
	// there, whether or not the members have been configured.
	pending := make(Graph)
	for _, inst := range r.all() {
		key := inst.key()
		all[key] = inst
		switch st := inst.currentState(); st {
		case StateConfigured:
			insts[key] = inst
			g[key] = inst.manifest.Dependencies
			pending[key] = inst.manifest.Dependencies
		case StateInitialized, StateActive:
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeAlreadyDone, State: st})
		default:
			pending[key] = inst.manifest.Dependencies
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeSkipped, State: st})
		}
	}
	r.logger.Info("Initializing modules", "count", len(insts))

	_, err := TopologicalOrder(pending)
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		report.Cycles = cycleErr.Cycles
		for key := range insts {
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeSkipped, State: StateConfigured,
				Error: "initialization aborted by dependency cycle"})
		}
		for _, key := range cycleErr.Members() {
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeCycle,
				State: all[key].currentState(), Error: cycleErr.Error()})
		}
		r.logger.Error("Dependency cycle detected", "cycles", cycleErr.Cycles)
		_ = r.finishBatch(ctx, "initialize", EventTypeBatchInitialized, &report.BatchReport)
		return report, cycleErr
	}
	order, err := TopologicalOrder(g)
	if err != nil {
		return report, err
	}
	report.Order = order

	for i, key := range order {
		if ctx.Err() != nil {
			r.markPending(&report.BatchReport, order[i:], StateConfigured)
			break
		}
		inst := insts[key]
		if roots := r.rootCauses(inst, initReady, StateConfigured, map[string]bool{}); len(roots) > 0 {
			r.block(ctx, &report.BatchReport, inst, roots)
			continue
		}
		outcome, err := r.initializeInstance(ctx, inst)
		o := ModuleOutcome{Module: key, Outcome: outcome, State: inst.currentState()}
		if err != nil {
			o.Error = err.Error()
		}
		report.set(o)
	}

	return report, r.finishBatch(ctx, "initialize", EventTypeBatchInitialized, &report.BatchReport)
}

// Initialize initializes a single Configured module whose dependencies are
// already Initialized or Active. It is a no-op for a module that is already
// Initialized or Active.
func (r *Registry) Initialize(ctx context.Context, key string) error {
	inst, err := r.lookup(key)
	if err != nil {
		return err
	}
	if st := inst.currentState(); st == StateInitialized || st == StateActive {
		return nil
	}
	if err := r.requireDeps(inst, initReady, ErrDependencyNotReady); err != nil {
		return err
	}
	outcome, err := r.initializeInstance(ctx, inst)
	if err != nil {
		return err
	}
	if outcome == OutcomeSkipped {
		return checkTransition(key, inst.currentState(), StateInitialized)
	}
	return nil
}

func (r *Registry) initializeInstance(ctx context.Context, inst *instance) (Outcome, error) {
	inst.op.Lock()
	inst.busy.Store(true)
	defer func() {
		inst.busy.Store(false)
		inst.op.Unlock()
	}()

	key := inst.key()
	switch st := inst.currentState(); st {
	case StateInitialized, StateActive:
		return OutcomeAlreadyDone, nil
	case StateConfigured:
	default:
		return OutcomeSkipped, checkTransition(key, st, StateInitialized)
	}
	if err := r.requireDeps(inst, initReady, ErrDependencyNotReady); err != nil {
		return OutcomeBlocked, err
	}

	if err := r.runStep(ctx, key, "initialize", inst.module.Initialize); err != nil {
		stepErr := stepError(ctx, ErrInitializationFailure, key, err)
		if tErr := r.setState(ctx, inst, StateFailed, "initialize", stepErr); tErr != nil {
			return OutcomeSkipped, tErr
		}
		return OutcomeFailed, stepErr
	}
	if err := r.setState(ctx, inst, StateInitialized, "initialize", nil); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeInitialized, nil
}

// ActivateAll activates Initialized modules in waves. Each wave holds the
// modules whose dependencies were all Active when it started, run in key
// order. Waves repeat until no module can progress; what is left is
// reported Blocked and stays Initialized.
func (r *Registry) ActivateAll(ctx context.Context) (*ActivationReport, error) {
	ctx, cancel := r.batchContext(ctx)
	defer cancel()

	report := &ActivationReport{BatchReport: newBatchReport(r.now())}
	pending := make(map[string]*instance)
	for _, inst := range r.all() {
		key := inst.key()
		switch st := inst.currentState(); st {
		case StateInitialized:
			pending[key] = inst
		case StateActive:
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeAlreadyDone, State: st})
		default:
			report.set(ModuleOutcome{Module: key, Outcome: OutcomeSkipped, State: st})
		}
	}
	r.logger.Info("Activating modules", "count", len(pending))

	for len(pending) > 0 && ctx.Err() == nil {
		var wave []string
		for key, inst := range pending {
			if r.depsSatisfy(inst, activeReady) {
				wave = append(wave, key)
			}
		}
		if len(wave) == 0 {
			break
		}
		sort.Strings(wave)

		var activated []string
		for _, key := range wave {
			if ctx.Err() != nil {
				break
			}
			inst := pending[key]
			delete(pending, key)
			report.Order = append(report.Order, key)
			outcome, err := r.activateInstance(ctx, inst)
			o := ModuleOutcome{Module: key, Outcome: outcome, State: inst.currentState()}
			if err != nil {
				o.Error = err.Error()
			}
			report.set(o)
			if outcome == OutcomeActivated {
				activated = append(activated, key)
			}
		}
		if len(activated) > 0 {
			report.Waves = append(report.Waves, activated)
		}
	}

	rest := make([]string, 0, len(pending))
	for key := range pending {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	if ctx.Err() != nil {
		r.markPending(&report.BatchReport, rest, StateInitialized)
	} else {
		for _, key := range rest {
			inst := pending[key]
			roots := r.rootCauses(inst, activeReady, StateInitialized, map[string]bool{})
			if len(roots) == 0 {
				roots = []string{key}
			}
			r.block(ctx, &report.BatchReport, inst, roots)
		}
	}

	return report, r.finishBatch(ctx, "activate", EventTypeBatchActivated, &report.BatchReport)
}

// Activate activates a single Initialized module whose dependencies are all
// Active. It is a no-op for a module that is already Active.
func (r *Registry) Activate(ctx context.Context, key string) error {
	inst, err := r.lookup(key)
	if err != nil {
		return err
	}
	if inst.currentState() == StateActive {
		return nil
	}
	outcome, err := r.activateInstance(ctx, inst)
	if err != nil {
		return err
	}
	if outcome == OutcomeSkipped {
		return checkTransition(key, inst.currentState(), StateActive)
	}
	return nil
}

func (r *Registry) activateInstance(ctx context.Context, inst *instance) (Outcome, error) {
	inst.op.Lock()
	inst.busy.Store(true)
	defer func() {
		inst.busy.Store(false)
		inst.op.Unlock()
	}()

	key := inst.key()
	switch st := inst.currentState(); st {
	case StateActive:
		return OutcomeAlreadyDone, nil
	case StateInitialized:
	default:
		return OutcomeSkipped, checkTransition(key, st, StateActive)
	}
	if err := r.requireDeps(inst, activeReady, ErrDependencyNotActive); err != nil {
		return OutcomeBlocked, err
	}

	if err := r.runStep(ctx, key, "activate", inst.module.Activate); err != nil {
		stepErr := stepError(ctx, ErrActivationFailure, key, err)
		if tErr := r.setState(ctx, inst, StateFailed, "activate", stepErr); tErr != nil {
			return OutcomeSkipped, tErr
		}
		return OutcomeFailed, stepErr
	}
	if err := r.setState(ctx, inst, StateActive, "activate", nil); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeActivated, nil
}

func initReady(s State) bool   { return s == StateInitialized || s == StateActive }
func activeReady(s State) bool { return s == StateActive }

func (r *Registry) depsSatisfy(inst *instance, ready func(State) bool) bool {
	for _, dep := range inst.manifest.Dependencies {
		d, err := r.lookup(dep)
		if err != nil || !d.satisfies(ready) {
			return false
		}
	}
	return true
}

func (r *Registry) requireDeps(inst *instance, ready func(State) bool, sentinel error) error {
	for _, dep := range inst.manifest.Dependencies {
		d, err := r.lookup(dep)
		if err != nil {
			return fmt.Errorf("%w: %q requires %q: %w", sentinel, inst.key(), dep, err)
		}
		if !d.satisfies(ready) {
			st := d.currentState()
			if d.stopping.Load() > 0 {
				return fmt.Errorf("%w: %q requires %q, which is stopping", sentinel, inst.key(), dep)
			}
			return fmt.Errorf("%w: %q requires %q, which is %s", sentinel, inst.key(), dep, st)
		}
	}
	return nil
}

// rootCauses explains why inst cannot progress. Dependencies still in the
// stuck state are followed to their own causes; anything else that is not
// ready (missing, failed, unconfigured) is a root.
func (r *Registry) rootCauses(inst *instance, ready func(State) bool, stuck State, seen map[string]bool) []string {
	seen[inst.key()] = true
	var roots []string
	for _, dep := range inst.manifest.Dependencies {
		d, err := r.lookup(dep)
		if err != nil {
			roots = append(roots, dep)
			continue
		}
		if d.satisfies(ready) {
			continue
		}
		st := d.currentState()
		if st == stuck && !seen[dep] {
			if sub := r.rootCauses(d, ready, stuck, seen); len(sub) > 0 {
				roots = append(roots, sub...)
				continue
			}
		}
		roots = append(roots, dep)
	}
	return sortedUnique(roots)
}

func (r *Registry) block(ctx context.Context, report *BatchReport, inst *instance, roots []string) {
	key := inst.key()
	report.set(ModuleOutcome{
		Module:    key,
		Outcome:   OutcomeBlocked,
		State:     inst.currentState(),
		BlockedBy: roots,
		Error:     fmt.Sprintf("blocked by %s", strings.Join(roots, ", ")),
	})
	r.logger.Warn("Module blocked", "module", key, "blockedBy", roots)
	r.emit(ctx, EventTypeModuleBlocked, ModuleEventData{
		Module: key,
		To:     inst.currentState().String(),
		Cause:  "blocked by " + strings.Join(roots, ", "),
	})
}

func (r *Registry) markPending(report *BatchReport, keys []string, st State) {
	report.TimedOut = true
	for _, key := range keys {
		if _, done := report.Modules[key]; done {
			continue
		}
		report.set(ModuleOutcome{Module: key, Outcome: OutcomePending, State: st})
	}
}

// finishBatch records duration, metrics and the batch event. It returns
// ErrBatchTimeout if ctx ran out before the batch completed.
func (r *Registry) finishBatch(ctx context.Context, op, eventType string, report *BatchReport) error {
	report.Duration = r.now().Sub(report.Started)
	counts := report.Counts()
	r.metrics.ObserveBatch(op, report.Duration, counts)

	var err error
	if ctx.Err() != nil && (report.TimedOut || len(report.With(OutcomeFailed)) > 0) {
		report.TimedOut = true
		err = fmt.Errorf("%s: %w: %w", op, ErrBatchTimeout, ctx.Err())
		r.logger.Error("Batch timed out", "operation", op, "duration", report.Duration, "outcomes", counts)
	} else {
		r.logger.Info("Batch complete", "operation", op, "duration", report.Duration, "outcomes", counts)
	}

	// Observers get a fresh context so a timed-out batch is still reported.
	r.emit(context.WithoutCancel(ctx), eventType, batchEventData{
		Outcomes: counts,
		Order:    report.Order,
		TimedOut: report.TimedOut,
		Cycles:   report.Cycles,
	})
	return err
}

func stepError(ctx context.Context, sentinel error, key string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %q: %w: %w", sentinel, key, ErrBatchTimeout, err)
	}
	return fmt.Errorf("%w: %q: %w", sentinel, key, err)
}
