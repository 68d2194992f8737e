package modreg

import "time"

// MetricsRecorder receives registry measurements. The metrics package
// provides a Prometheus implementation.
type MetricsRecorder interface {
	// ObserveTransition is called after every state change.
	ObserveTransition(module string, from, to State)

	// ObserveBatch is called when InitializeAll or ActivateAll returns.
	ObserveBatch(operation string, duration time.Duration, outcomes map[Outcome]int)

	// ObserveHealth is called for every module health evaluation.
	ObserveHealth(module string, status HealthStatus)

	// ForgetModule drops per-module series after Unregister.
	ForgetModule(module string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTransition(string, State, State)              {}
func (nopMetrics) ObserveBatch(string, time.Duration, map[Outcome]int) {}
func (nopMetrics) ObserveHealth(string, HealthStatus)                  {}
func (nopMetrics) ForgetModule(string)                                 {}
