package modreg

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"
)

// callLog records lifecycle calls across several stub modules so tests can
// assert on global ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// stubModule is a configurable Module. Errors and blocking behaviour are set
// before registration.
type stubModule struct {
	manifest Manifest
	log      *callLog

	configureErr  error
	initErr       error
	activateErr   error
	deactivateErr error
	initPanic     bool

	// initBlock makes Initialize wait until closed or ctx is done.
	initBlock chan struct{}
	// deactivateBlock makes Deactivate signal deactivateEntered, then wait
	// until closed.
	deactivateBlock   chan struct{}
	deactivateEntered chan struct{}

	mu          sync.Mutex
	initCalls   int
	activeCalls int
	lastConfig  Config
}

func newStub(key string, deps ...string) *stubModule {
	return &stubModule{
		manifest: Manifest{
			Key:          key,
			Version:      "1.0.0",
			Capabilities: []string{key + "-cap"},
			Dependencies: deps,
		},
	}
}

func (m *stubModule) Manifest() Manifest { return m.manifest }

func (m *stubModule) record(step string) {
	if m.log != nil {
		m.log.add(step + ":" + m.manifest.Key)
	}
}

func (m *stubModule) Configure(_ context.Context, cfg Config) error {
	m.record("configure")
	if m.configureErr != nil {
		return m.configureErr
	}
	m.mu.Lock()
	m.lastConfig = cfg
	m.mu.Unlock()
	return nil
}

func (m *stubModule) Initialize(ctx context.Context) error {
	m.record("initialize")
	if m.initPanic {
		panic("boom")
	}
	if m.initBlock != nil {
		select {
		case <-m.initBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.initErr != nil {
		return m.initErr
	}
	m.mu.Lock()
	m.initCalls++
	m.mu.Unlock()
	return nil
}

func (m *stubModule) Activate(context.Context) error {
	m.record("activate")
	if m.activateErr != nil {
		return m.activateErr
	}
	m.mu.Lock()
	m.activeCalls++
	m.mu.Unlock()
	return nil
}

func (m *stubModule) Deactivate(context.Context) error {
	m.record("deactivate")
	if m.deactivateBlock != nil {
		close(m.deactivateEntered)
		<-m.deactivateBlock
	}
	return m.deactivateErr
}

func (m *stubModule) counts() (initCalls, activeCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls, m.activeCalls
}

// checkedStub adds a HealthCheck to stubModule.
type checkedStub struct {
	*stubModule
	check func(ctx context.Context) (HealthReport, error)
}

func (m *checkedStub) HealthCheck(ctx context.Context) (HealthReport, error) {
	return m.check(ctx)
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	id string

	mu     sync.Mutex
	events []cloudevents.Event
}

func newRecordingObserver(id string) *recordingObserver {
	return &recordingObserver{id: id}
}

func (o *recordingObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
	return nil
}

func (o *recordingObserver) ObserverID() string { return o.id }

func (o *recordingObserver) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.Type())
	}
	return out
}

func (o *recordingObserver) count(eventType string) int {
	n := 0
	for _, t := range o.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// registerConfigured registers every module with an empty configuration.
func registerConfigured(t *testing.T, r *Registry, modules ...Module) {
	t.Helper()
	for _, m := range modules {
		_, err := r.Register(context.Background(), m, WithConfig(Config{}))
		require.NoError(t, err, "register %s", m.Manifest().Key)
	}
}

// startAll runs both batches and requires them to succeed.
func startAll(t *testing.T, r *Registry) {
	t.Helper()
	ctx := context.Background()
	initReport, err := r.InitializeAll(ctx)
	require.NoError(t, err)
	require.True(t, initReport.OK(), fmt.Sprint(initReport.Modules))
	actReport, err := r.ActivateAll(ctx)
	require.NoError(t, err)
	require.True(t, actReport.OK(), fmt.Sprint(actReport.Modules))
}

func mustState(t *testing.T, r *Registry, key string) State {
	t.Helper()
	st, ok := r.State(key)
	require.True(t, ok, "module %s not registered", key)
	return st
}
