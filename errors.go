package modreg

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors
var (
	// Registration errors
	ErrNilModule       = errors.New("module is nil")
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrDuplicateKey    = errors.New("module key already registered")
	ErrModuleActive    = errors.New("module is active")
	ErrModuleNotFound  = errors.New("module not found")
	ErrNilObserver     = errors.New("observer is nil")

	// Capability contract errors
	errEmptyContractName    = errors.New("contract name cannot be empty")
	errContractNotInterface = errors.New("contract must be built from an interface type")
	errContractExists       = errors.New("contract already registered")

	// State machine errors
	ErrInvalidTransition = errors.New("invalid state transition")

	// Configuration errors
	ErrConfiguration = errors.New("configuration rejected")

	// Dependency resolution errors
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// Lifecycle step errors
	ErrInitializationFailure = errors.New("module initialization failed")
	ErrActivationFailure     = errors.New("module activation failed")
	ErrDeactivationFailure   = errors.New("module deactivation failed")
	ErrDependencyNotReady    = errors.New("dependency not initialized")
	ErrDependencyNotActive   = errors.New("dependency not active")
	ErrBatchTimeout          = errors.New("batch operation timed out")
	ErrStepPanicked          = errors.New("module step panicked")
)

// ManifestError reports a manifest rejected by the validator.
// It unwraps to ErrInvalidManifest.
type ManifestError struct {
	Key    string
	Result ValidationResult
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidManifest, e.Key, joinValidationErrors(e.Result.Errors))
}

func (e *ManifestError) Unwrap() error { return ErrInvalidManifest }

// ConfigError reports a configuration rejected either by schema validation
// or by the module's own Configure step. It unwraps to ErrConfiguration.
type ConfigError struct {
	Key    string
	Result ValidationResult
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s for module %q: %v", ErrConfiguration, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s for module %q: %s", ErrConfiguration, e.Key, joinValidationErrors(e.Result.Errors))
}

func (e *ConfigError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConfiguration, e.Cause}
	}
	return []error{ErrConfiguration}
}

// CycleError lists every strongly connected set of module keys that
// prevents a topological order. Each cycle is sorted and the list of
// cycles is sorted by its first key.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, "{"+strings.Join(c, ", ")+"}")
	}
	return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(parts, " "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// Members returns the union of all cycle members in ascending order.
func (e *CycleError) Members() []string {
	var out []string
	for _, c := range e.Cycles {
		out = append(out, c...)
	}
	return sortedUnique(out)
}

func joinValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return "no details"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
