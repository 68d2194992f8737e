package modreg

import (
	"sort"
	"time"
)

// Outcome is the per-module result of a batch operation.
type Outcome string

const (
	// OutcomeInitialized means Initialize ran and succeeded in this batch.
	OutcomeInitialized Outcome = "initialized"
	// OutcomeActivated means Activate ran and succeeded in this batch.
	OutcomeActivated Outcome = "activated"
	// OutcomeAlreadyDone means the module had already reached the target state.
	OutcomeAlreadyDone Outcome = "already_done"
	// OutcomeFailed means the module's own step failed; it is now Failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeBlocked means a dependency is failed, blocked or unavailable.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeCycle means the module is part of a dependency cycle.
	OutcomeCycle Outcome = "cycle"
	// OutcomePending means the batch timed out before reaching the module.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped means the module was not in a state the batch acts on.
	OutcomeSkipped Outcome = "skipped"
)

// ModuleOutcome is the report entry for one module.
type ModuleOutcome struct {
	Module  string  `json:"module"`
	Outcome Outcome `json:"outcome"`
	State   State   `json:"state"`
	Error   string  `json:"error,omitempty"`
	// BlockedBy lists the root causes of a Blocked outcome: failed modules,
	// or dependencies that are missing or not in a usable state.
	BlockedBy []string `json:"blockedBy,omitempty"`
}

// BatchReport is shared by InitializationReport and ActivationReport.
type BatchReport struct {
	// Order is the sequence in which steps were attempted.
	Order    []string                 `json:"order"`
	Modules  map[string]ModuleOutcome `json:"modules"`
	Cycles   [][]string               `json:"cycles,omitempty"`
	TimedOut bool                     `json:"timedOut,omitempty"`
	Started  time.Time                `json:"started"`
	Duration time.Duration            `json:"duration"`
}

func newBatchReport(start time.Time) BatchReport {
	return BatchReport{Modules: make(map[string]ModuleOutcome), Started: start}
}

// Outcome returns the outcome recorded for key.
func (b *BatchReport) Outcome(key string) (Outcome, bool) {
	m, ok := b.Modules[key]
	return m.Outcome, ok
}

// With returns the keys that ended with outcome o, sorted.
func (b *BatchReport) With(o Outcome) []string {
	var keys []string
	for k, m := range b.Modules {
		if m.Outcome == o {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Counts tallies outcomes.
func (b *BatchReport) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, m := range b.Modules {
		counts[m.Outcome]++
	}
	return counts
}

// OK reports whether no module failed, was blocked, cycled or was left pending.
func (b *BatchReport) OK() bool {
	for _, m := range b.Modules {
		switch m.Outcome {
		case OutcomeFailed, OutcomeBlocked, OutcomeCycle, OutcomePending:
			return false
		}
	}
	return true
}

func (b *BatchReport) set(o ModuleOutcome) {
	b.Modules[o.Module] = o
}

// InitializationReport is returned by InitializeAll.
type InitializationReport struct {
	BatchReport
}

// ActivationReport is returned by ActivateAll.
type ActivationReport struct {
	BatchReport
	// Waves groups the keys activated together; a wave only contains modules
	// whose dependencies were all Active when the wave started.
	Waves [][]string `json:"waves,omitempty"`
}
