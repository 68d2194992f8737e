package config

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modreg"
)

// Target is the part of *modreg.Registry that Apply needs.
type Target interface {
	List() []modreg.InstanceInfo
	Configure(ctx context.Context, key string, cfg modreg.Config) (modreg.ValidationResult, error)
}

// ApplyResult describes what Apply did to each module.
type ApplyResult struct {
	Configured []string
	// Skipped modules were in a state that does not accept configuration.
	Skipped   []string
	Errors    map[string]error
	Overrides []Override
}

// Apply configures every registered module that is Registered, Deactivated
// or Failed from f, with environment overrides. Modules in other states are
// skipped; configuration is never applied to a running module.
func Apply(ctx context.Context, target Target, f *File, lookup LookupFunc, logger modreg.Logger) ApplyResult {
	res := ApplyResult{Errors: map[string]error{}}
	for _, info := range target.List() {
		key := info.Manifest.Key
		switch info.State {
		case modreg.StateRegistered, modreg.StateDeactivated, modreg.StateFailed:
		default:
			if _, ok := f.Modules[key]; ok && logger != nil && info.State == modreg.StateActive {
				logger.Warn("Configuration change not applied to active module", "module", key)
			}
			res.Skipped = append(res.Skipped, key)
			continue
		}

		cfg, overrides, err := f.ModuleConfig(key, info.Manifest.ConfigSchema, lookup)
		if err != nil {
			res.Errors[key] = fmt.Errorf("module %s: %w", key, err)
			continue
		}
		res.Overrides = append(res.Overrides, overrides...)
		if _, err := target.Configure(ctx, key, cfg); err != nil {
			res.Errors[key] = err
			continue
		}
		res.Configured = append(res.Configured, key)
	}
	if logger != nil {
		logger.Info("Applied module configuration",
			"configured", len(res.Configured), "skipped", len(res.Skipped), "failed", len(res.Errors))
	}
	return res
}
