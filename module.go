// Package modreg provides an in-process module lifecycle registry.
//
// Independently developed feature units (theming, authentication, reporting,
// delivery tracking, ...) register a Manifest together with an
// implementation. The registry validates them, orders them by their declared
// dependencies, drives each one through
// Registered → Configured → Initialized → Active, and combines their
// self-reported health with facts it observes itself.
//
// Consumers never import a concrete module. They ask for a capability by name:
//
//	reg := modreg.NewRegistry(modreg.WithLogger(logger))
//	_, _ = reg.Register(ctx, theming.New(), modreg.WithConfig(cfg))
//	_, _ = reg.InitializeAll(ctx)
//	_, _ = reg.ActivateAll(ctx)
//	if themes, ok := modreg.Lookup[theming.Provider](reg, "theme-provider"); ok {
//	    ...
//	}
//
// The registry holds no timers and runs no background loops; periodic health
// polling is owned by the caller (see the health package).
package modreg

import "context"

// Config is the configuration object applied to a module. Keys are matched
// against the module's ConfigSchema.
type Config map[string]any

// Module is the contract every registry citizen implements.
//
// Initialize and Activate must be safe to call twice and must honour context
// cancellation; the caller-supplied timeout is the only safety net against a
// step that blocks forever.
type Module interface {
	// Manifest returns the static declaration of the module. It is read once
	// at registration and treated as immutable afterwards.
	Manifest() Manifest

	// Configure receives the validated configuration, with schema defaults
	// applied. Returning an error rejects the configuration and leaves the
	// module in its prior state.
	Configure(ctx context.Context, cfg Config) error

	// Initialize prepares internal state. It runs in dependency order after
	// every dependency has been initialized or is already active.
	Initialize(ctx context.Context) error

	// Activate starts serving capabilities. It runs only once every
	// dependency is active.
	Activate(ctx context.Context) error

	// Deactivate performs a graceful shutdown.
	Deactivate(ctx context.Context) error
}

// HealthChecker is implemented by modules that can report their own health.
// Modules that do not implement it are treated as always healthy unless they
// push a report with Registry.ReportHealth.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (HealthReport, error)
}

// CapabilityProvider lets a module hand out a dedicated object per capability
// instead of itself. Provide returning nil falls back to the module.
type CapabilityProvider interface {
	Provide(capability string) any
}

// implementationFor returns the object consumers receive for capability.
func implementationFor(m Module, capability string) any {
	if p, ok := m.(CapabilityProvider); ok {
		if impl := p.Provide(capability); impl != nil {
			return impl
		}
	}
	return m
}

// BaseModule provides no-op lifecycle steps. Embed it in modules that only
// need a subset of the steps.
type BaseModule struct{}

func (BaseModule) Configure(context.Context, Config) error { return nil }
func (BaseModule) Initialize(context.Context) error        { return nil }
func (BaseModule) Activate(context.Context) error          { return nil }
func (BaseModule) Deactivate(context.Context) error        { return nil }
