package modreg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cucumber/godog"
)

var (
	errUnexpectedState    = errors.New("unexpected module state")
	errUnexpectedOutcome  = errors.New("unexpected batch outcome")
	errUnexpectedHealth   = errors.New("unexpected health status")
	errExpectedFailure    = errors.New("expected registration to fail")
	errStillRegistered    = errors.New("module is still registered")
	errActivationOrder    = errors.New("modules activated out of order")
	errMissingIssue       = errors.New("health issue not reported")
	errCycleNotReported   = errors.New("cycle not reported")
	errProviderStillFound = errors.New("capability still has a provider")
	errNoBatchReport      = errors.New("no batch report recorded")
)

// lifecycleContext holds one scenario's registry and results.
type lifecycleContext struct {
	registry    *Registry
	registerErr error
	initReport  *InitializationReport
	initErr     error
	mu          sync.Mutex
	activated   []string
}

func (c *lifecycleContext) reset() {
	c.registry = NewRegistry()
	c.registerErr = nil
	c.initReport = nil
	c.initErr = nil
	c.activated = nil
	_ = c.registry.RegisterObserver(NewFunctionalObserver("activation-order", func(_ context.Context, e cloudevents.Event) error {
		var data ModuleEventData
		if err := e.DataAs(&data); err != nil {
			return err
		}
		c.mu.Lock()
		c.activated = append(c.activated, data.Module)
		c.mu.Unlock()
		return nil
	}), EventTypeModuleActivated)
}

func (c *lifecycleContext) register(m Module) error {
	_, err := c.registry.Register(context.Background(), m, WithConfig(Config{}))
	return err
}

func (c *lifecycleContext) aNewModuleRegistry() error {
	c.reset()
	return nil
}

func (c *lifecycleContext) moduleIsRegistered(key string) error {
	return c.register(newStub(key))
}

func (c *lifecycleContext) moduleDependingOnIsRegistered(key, dep string) error {
	return c.register(newStub(key, dep))
}

func (c *lifecycleContext) moduleThatFailsToInitializeIsRegistered(key string) error {
	m := newStub(key)
	m.initErr = fmt.Errorf("%s cannot start", key)
	return c.register(m)
}

func (c *lifecycleContext) moduleReportingDegradedHealthIsRegistered(key, message string) error {
	return c.register(&checkedStub{
		stubModule: newStub(key),
		check: func(context.Context) (HealthReport, error) {
			return Degraded(message), nil
		},
	})
}

func (c *lifecycleContext) iRegisterModuleWithoutCapabilities(key string) error {
	m := newStub(key)
	m.manifest.Capabilities = nil
	_, c.registerErr = c.registry.Register(context.Background(), m)
	return nil
}

func (c *lifecycleContext) iInitializeAllModules() error {
	c.initReport, c.initErr = c.registry.InitializeAll(context.Background())
	return nil
}

func (c *lifecycleContext) iActivateAllModules() error {
	_, err := c.registry.ActivateAll(context.Background())
	return err
}

func (c *lifecycleContext) allModulesAreStarted() error {
	if err := c.iInitializeAllModules(); err != nil {
		return err
	}
	if c.initErr != nil {
		return c.initErr
	}
	return c.iActivateAllModules()
}

func (c *lifecycleContext) iUnregisterModule(key string) error {
	return c.registry.Unregister(context.Background(), key)
}

func (c *lifecycleContext) moduleShouldBeActivatedBefore(first, second string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, j := slices.Index(c.activated, first), slices.Index(c.activated, second)
	if i < 0 || j < 0 || i > j {
		return fmt.Errorf("%w: %v", errActivationOrder, c.activated)
	}
	return nil
}

func (c *lifecycleContext) everyModuleShouldBe(state string) error {
	for _, info := range c.registry.List() {
		if info.State.String() != state {
			return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedState, info.Manifest.Key, info.State, state)
		}
	}
	return nil
}

func (c *lifecycleContext) moduleShouldBe(key, state string) error {
	st, ok := c.registry.State(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, key)
	}
	if st.String() != state {
		return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedState, key, st, state)
	}
	return nil
}

func (c *lifecycleContext) theSystemHealthShouldBe(status string) error {
	sys := c.registry.HealthAll(context.Background())
	if sys.Status.String() != status {
		return fmt.Errorf("%w: %s, want %s", errUnexpectedHealth, sys.Status, status)
	}
	return nil
}

func (c *lifecycleContext) theSystemHealthShouldIncludeIssueFrom(message, key string) error {
	sys := c.registry.HealthAll(context.Background())
	for _, issue := range sys.Issues {
		if issue.Module == key && issue.Message == message {
			return nil
		}
	}
	return fmt.Errorf("%w: %q from %s in %v", errMissingIssue, message, key, sys.Issues)
}

func (c *lifecycleContext) registrationShouldFailWithAnInvalidManifestError() error {
	if c.registerErr == nil {
		return errExpectedFailure
	}
	if !errors.Is(c.registerErr, ErrInvalidManifest) {
		return fmt.Errorf("%w: got %v", errExpectedFailure, c.registerErr)
	}
	return nil
}

func (c *lifecycleContext) moduleShouldNotBeRegistered(key string) error {
	if _, ok := c.registry.Instance(key); ok {
		return fmt.Errorf("%w: %s", errStillRegistered, key)
	}
	return nil
}

func (c *lifecycleContext) initializationShouldReportTheCycle(members string) error {
	if c.initReport == nil {
		return errNoBatchReport
	}
	var cycleErr *CycleError
	if !errors.As(c.initErr, &cycleErr) {
		return fmt.Errorf("%w: error %v", errCycleNotReported, c.initErr)
	}
	want := strings.Split(members, ", ")
	for _, cycle := range c.initReport.Cycles {
		if slices.Equal(cycle, want) {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", errCycleNotReported, c.initReport.Cycles)
}

func (c *lifecycleContext) theOutcomeOfShouldBe(key, outcome string) error {
	if c.initReport == nil {
		return errNoBatchReport
	}
	got, ok := c.initReport.Outcome(key)
	if !ok || string(got) != outcome {
		return fmt.Errorf("%w: %s is %q, want %q", errUnexpectedOutcome, key, got, outcome)
	}
	return nil
}

func (c *lifecycleContext) capabilityShouldHaveNoProvider(capability string) error {
	if _, ok := c.registry.GetByCapability(capability); ok {
		return fmt.Errorf("%w: %s", errProviderStillFound, capability)
	}
	if _, ok := c.registry.ResolvedProvider(capability); ok {
		return fmt.Errorf("%w: %s", errProviderStillFound, capability)
	}
	return nil
}

// InitializeScenario binds the lifecycle steps.
func InitializeScenario(ctx *godog.ScenarioContext) {
	c := &lifecycleContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	ctx.Step(`^a new module registry$`, c.aNewModuleRegistry)

	ctx.Step(`^module "([^"]*)" is registered$`, c.moduleIsRegistered)
	ctx.Step(`^module "([^"]*)" depending on "([^"]*)" is registered$`, c.moduleDependingOnIsRegistered)
	ctx.Step(`^module "([^"]*)" that fails to initialize is registered$`, c.moduleThatFailsToInitializeIsRegistered)
	ctx.Step(`^module "([^"]*)" reporting degraded health "([^"]*)" is registered$`, c.moduleReportingDegradedHealthIsRegistered)
	ctx.Step(`^I register module "([^"]*)" without capabilities$`, c.iRegisterModuleWithoutCapabilities)

	ctx.Step(`^I initialize all modules$`, c.iInitializeAllModules)
	ctx.Step(`^I activate all modules$`, c.iActivateAllModules)
	ctx.Step(`^all modules are started$`, c.allModulesAreStarted)
	ctx.Step(`^I unregister module "([^"]*)"$`, c.iUnregisterModule)

	ctx.Step(`^module "([^"]*)" should be activated before module "([^"]*)"$`, c.moduleShouldBeActivatedBefore)
	ctx.Step(`^every module should be "([^"]*)"$`, c.everyModuleShouldBe)
	ctx.Step(`^module "([^"]*)" should be "([^"]*)"$`, c.moduleShouldBe)
	ctx.Step(`^module "([^"]*)" should not be registered$`, c.moduleShouldNotBeRegistered)
	ctx.Step(`^the system health should be "([^"]*)"$`, c.theSystemHealthShouldBe)
	ctx.Step(`^the system health should include issue "([^"]*)" from "([^"]*)"$`, c.theSystemHealthShouldIncludeIssueFrom)
	ctx.Step(`^registration should fail with an invalid manifest error$`, c.registrationShouldFailWithAnInvalidManifestError)
	ctx.Step(`^initialization should report the cycle "([^"]*)"$`, c.initializationShouldReportTheCycle)
	ctx.Step(`^the outcome of "([^"]*)" should be "([^"]*)"$`, c.theOutcomeOfShouldBe)
	ctx.Step(`^capability "([^"]*)" should have no provider$`, c.capabilityShouldHaveNoProvider)
}

// TestModuleLifecycle runs the lifecycle feature.
func TestModuleLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
