package modreg

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// healthEventData is the payload of health.evaluated events.
type healthEventData struct {
	Module   string `json:"module"`
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status"`
}

// Health evaluates one module. The module's self check runs only while it
// is Active; modules without a HealthChecker fall back to the last report
// pushed through ReportHealth, or healthy. The self-report is then combined
// with observed facts: a module that is not Active carries an issue for its
// own state, and every dependency that is not Active forces at least
// degraded.
//
// Health never waits on lifecycle steps in progress.
func (r *Registry) Health(ctx context.Context, key string) (ModuleHealth, error) {
	inst, err := r.lookup(key)
	if err != nil {
		return ModuleHealth{}, err
	}
	now := r.now()
	st := inst.currentState()
	h := ModuleHealth{Module: key, State: st, CheckedAt: now}

	if st == StateActive {
		self := r.selfReport(ctx, inst)
		h.SelfReport = &self
		h.Status = self.Status
		h.Issues = append(h.Issues, self.Issues...)
	} else {
		sev := StatusDegraded
		if st == StateFailed {
			sev = StatusUnhealthy
		}
		h.Issues = append(h.Issues, HealthIssue{Severity: sev, Message: fmt.Sprintf("module %s is %s", key, st)})
	}

	for _, dep := range inst.manifest.Dependencies {
		d, err := r.lookup(dep)
		if err == nil && d.currentState() == StateActive {
			continue
		}
		h.Issues = append(h.Issues, HealthIssue{Severity: StatusDegraded, Message: fmt.Sprintf("dependency %s not active", dep)})
	}

	inst.mu.Lock()
	prev := inst.lastHealth
	for i := range h.Issues {
		h.Status = h.Status.Worst(h.Issues[i].Severity)
		h.Issues[i].Since = issueSince(prev, h.Issues[i], now)
	}
	stored := h
	stored.Issues = slices.Clone(h.Issues)
	inst.lastHealth = &stored
	inst.mu.Unlock()

	r.metrics.ObserveHealth(key, h.Status)
	if prev == nil || prev.Status != h.Status {
		data := healthEventData{Module: key, Status: h.Status.String()}
		if prev != nil {
			data.Previous = prev.Status.String()
			r.logger.Info("Module health changed", "module", key, "from", prev.Status, "to", h.Status)
		}
		r.emit(ctx, EventTypeHealthEvaluated, data)
	}
	return h, nil
}

// HealthAll evaluates every Active module. The overall status is the worst
// module status; an empty set is healthy. Issues are tagged with their
// module and listed in key order.
func (r *Registry) HealthAll(ctx context.Context) SystemHealth {
	sys := SystemHealth{Status: StatusHealthy, CheckedAt: r.now(), Modules: []ModuleHealth{}}
	for _, inst := range r.all() {
		if inst.currentState() != StateActive {
			continue
		}
		h, err := r.Health(ctx, inst.key())
		if err != nil {
			// Unregistered since the listing.
			continue
		}
		sys.Modules = append(sys.Modules, h)
		sys.Status = sys.Status.Worst(h.Status)
		for _, issue := range h.Issues {
			sys.Issues = append(sys.Issues, TaggedIssue{Module: h.Module, HealthIssue: issue})
		}
	}
	return sys
}

// selfReport asks the module about itself, bounded by the health timeout.
// A failing, panicking or slow check is reported as unhealthy.
func (r *Registry) selfReport(ctx context.Context, inst *instance) HealthReport {
	checker, ok := inst.module.(HealthChecker)
	if !ok {
		inst.mu.RLock()
		pushed := inst.pushedHealth
		inst.mu.RUnlock()
		if pushed != nil {
			return HealthReport{Status: pushed.Status, Issues: slices.Clone(pushed.Issues)}
		}
		return Healthy()
	}

	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()
	var report HealthReport
	err := r.runStep(ctx, inst.key(), "health check", func(ctx context.Context) error {
		var err error
		report, err = checker.HealthCheck(ctx)
		return err
	})
	if err != nil {
		r.logger.Warn("Health check failed", "module", inst.key(), "error", err)
		return Unhealthy(fmt.Sprintf("health check failed: %v", err))
	}
	return report
}

// issueSince keeps the first-seen time of an issue that is still present.
func issueSince(prev *ModuleHealth, issue HealthIssue, now time.Time) time.Time {
	if prev != nil {
		for _, p := range prev.Issues {
			if p.Message == issue.Message {
				return p.Since
			}
		}
	}
	if !issue.Since.IsZero() {
		return issue.Since
	}
	return now
}
