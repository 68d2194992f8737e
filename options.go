package modreg

import "time"

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. A nil logger keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics installs a metrics recorder, typically a *metrics.Collector.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides the time source used for transition history and
// health timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBatchTimeout bounds every InitializeAll and ActivateAll call in
// addition to any deadline on the caller's context. Zero disables it.
func WithBatchTimeout(d time.Duration) Option {
	return func(r *Registry) { r.batchTimeout = d }
}

// WithHealthCheckTimeout bounds each module's self health check.
// Default: 2s.
func WithHealthCheckTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.healthTimeout = d
		}
	}
}

// WithHistoryLimit caps the number of transitions kept per instance.
// Default: 32.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithContracts registers capability contracts at construction time.
// Invalid contracts are logged and skipped.
func WithContracts(contracts ...CapabilityContract) Option {
	return func(r *Registry) {
		r.pendingContracts = append(r.pendingContracts, contracts...)
	}
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	config  Config
	replace bool
}

// WithConfig supplies a configuration; registration then attempts the
// Configured transition immediately.
func WithConfig(cfg Config) RegisterOption {
	return func(o *registerOptions) { o.config = cfg }
}

// WithReplace allows replacing an existing, non-Active instance with the
// same key and taking over already-resolved capabilities.
func WithReplace() RegisterOption {
	return func(o *registerOptions) { o.replace = true }
}
