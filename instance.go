package modreg

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// instance is the registry-owned record of one module.
//
// op serializes lifecycle steps on the instance and is held while the
// module's own Configure/Initialize/Activate/Deactivate runs. mu guards the
// observable fields; readers take only mu so they never wait on a step.
type instance struct {
	manifest Manifest
	module   Module

	op   sync.Mutex
	busy atomic.Bool
	// stopping counts Deactivate and Unregister calls in progress; while it
	// is non-zero the instance does not satisfy any dependency.
	stopping atomic.Int32

	mu             sync.RWMutex
	state          State
	lastValidation ValidationResult
	lastHealth     *ModuleHealth
	pushedHealth   *HealthReport
	appliedConfig  Config
	lastErr        error
	history        []Transition
	registeredAt   time.Time
}

func (i *instance) key() string { return i.manifest.Key }

func (i *instance) currentState() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// available reports a clean Active state with no step in flight.
func (i *instance) available() bool {
	return !i.busy.Load() && i.currentState() == StateActive
}

// satisfies reports whether the instance counts as a ready dependency.
func (i *instance) satisfies(ready func(State) bool) bool {
	return i.stopping.Load() == 0 && ready(i.currentState())
}

func (i *instance) setValidation(res ValidationResult) {
	i.mu.Lock()
	i.lastValidation = res
	i.mu.Unlock()
}

// InstanceInfo is a point-in-time snapshot of a module instance.
type InstanceInfo struct {
	Manifest       Manifest         `json:"manifest"`
	State          State            `json:"state"`
	Busy           bool             `json:"busy"`
	LastValidation ValidationResult `json:"lastValidation"`
	LastHealth     *ModuleHealth    `json:"lastHealth,omitempty"`
	AppliedConfig  Config           `json:"appliedConfig,omitempty"`
	LastError      string           `json:"lastError,omitempty"`
	History        []Transition     `json:"history,omitempty"`
	RegisteredAt   time.Time        `json:"registeredAt"`
	// Resolved lists the capabilities for which this module is the resolved
	// provider.
	Resolved []string `json:"resolved,omitempty"`
}

func (i *instance) snapshot() InstanceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	info := InstanceInfo{
		Manifest:       i.manifest.clone(),
		State:          i.state,
		Busy:           i.busy.Load(),
		LastValidation: i.lastValidation,
		AppliedConfig:  maps.Clone(i.appliedConfig),
		History:        slices.Clone(i.history),
		RegisteredAt:   i.registeredAt,
	}
	if i.lastHealth != nil {
		h := *i.lastHealth
		info.LastHealth = &h
	}
	if i.lastErr != nil {
		info.LastError = i.lastErr.Error()
	}
	return info
}
