package features

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modreg"
)

var testConfigs = map[string]modreg.Config{
	"theming":   {"default_theme": "harbour"},
	"auth":      {"session_ttl_minutes": 60},
	"analytics": {"retention_days": 7, "buffer_size": 10},
	"delivery":  {"max_temperature_c": 5.0},
}

func bootstrap(t *testing.T) *modreg.Registry {
	t.Helper()
	ctx := context.Background()
	reg := modreg.NewRegistry(modreg.WithContracts(Contracts()...))
	for _, m := range All(reg) {
		key, err := reg.Register(ctx, m, modreg.WithConfig(testConfigs[m.Manifest().Key]))
		require.NoError(t, err, key)
	}
	initReport, err := reg.InitializeAll(ctx)
	require.NoError(t, err)
	require.True(t, initReport.OK(), initReport.Modules)
	act, err := reg.ActivateAll(ctx)
	require.NoError(t, err)
	require.True(t, act.OK(), act.Modules)
	return reg
}

func TestFeatureBootstrap(t *testing.T) {
	reg := bootstrap(t)

	order, err := reg.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "analytics", "delivery", "theming"}, order)

	for _, info := range reg.List() {
		assert.Equal(t, modreg.StateActive, info.State, info.Manifest.Key)
		assert.False(t, info.LastValidation.HasCode(modreg.CodeUncontracted), "contract registered for %s", info.Manifest.Key)
	}
}

func TestDeliveryRecordsIntoAnalytics(t *testing.T) {
	reg := bootstrap(t)

	tracker, ok := modreg.Lookup[DeliveryTracker](reg, CapabilityDelivery)
	require.True(t, ok)
	engine, ok := modreg.Lookup[AnalyticsEngine](reg, CapabilityAnalytics)
	require.True(t, ok)

	now := time.Now()
	ok1 := tracker.Check(Docket{ID: "D-1", Readings: []Reading{{At: now, TemperatureC: 3.5}, {At: now, TemperatureC: 4.0}}})
	assert.True(t, ok1.Compliant)
	assert.Equal(t, 4.0, ok1.MaxObservedC)

	bad := tracker.Check(Docket{ID: "D-2", Readings: []Reading{{At: now, TemperatureC: 2.0}, {At: now, TemperatureC: 7.5}}})
	assert.False(t, bad.Compliant)
	require.Len(t, bad.Breaches, 1)
	assert.Equal(t, 7.5, bad.MaxObservedC)

	assert.Equal(t, 2, engine.Count("delivery.checked"))
	assert.Equal(t, 1, engine.Count("delivery.breach"))
}

func TestDeliveryWithoutAnalytics(t *testing.T) {
	reg := bootstrap(t)
	ctx := context.Background()
	tracker, ok := modreg.Lookup[DeliveryTracker](reg, CapabilityDelivery)
	require.True(t, ok)

	// Deactivating analytics takes delivery down with it, but the tracker
	// object held by a consumer keeps checking without recording.
	require.NoError(t, reg.Deactivate(ctx, "analytics"))
	st, _ := reg.State("delivery")
	assert.Equal(t, modreg.StateDeactivated, st)

	c := tracker.Check(Docket{ID: "D-3", Readings: []Reading{{TemperatureC: 9}}})
	assert.False(t, c.Compliant)
	_, ok = reg.GetByCapability(CapabilityAnalytics)
	assert.False(t, ok)
}

func TestAnalyticsHealth(t *testing.T) {
	reg := bootstrap(t)
	ctx := context.Background()
	engine, ok := modreg.Lookup[AnalyticsEngine](reg, CapabilityAnalytics)
	require.True(t, ok)

	for i := 0; i < 9; i++ {
		require.NoError(t, engine.Record(Event{Name: "tick"}))
	}
	h, err := reg.Health(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, modreg.StatusDegraded, h.Status)
	require.Len(t, h.Issues, 1)
	assert.Equal(t, "event buffer 90% full", h.Issues[0].Message)

	sys := reg.HealthAll(ctx)
	assert.Equal(t, modreg.StatusDegraded, sys.Status)
	require.Len(t, sys.Issues, 1)
	assert.Equal(t, "analytics", sys.Issues[0].Module)
}

func TestAnalyticsBufferBounds(t *testing.T) {
	a := NewAnalytics()
	ctx := context.Background()
	require.NoError(t, a.Configure(ctx, modreg.Config{"retention_days": 1, "buffer_size": 3}))
	require.NoError(t, a.Initialize(ctx))
	assert.ErrorIs(t, a.Record(Event{Name: "early"}), ErrAnalyticsInactive)
	require.NoError(t, a.Activate(ctx))

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	require.NoError(t, a.Record(Event{Name: "old", At: now.Add(-48 * time.Hour)}))
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Record(Event{Name: "new"}))
	}
	assert.Len(t, a.buffer, 3)
	assert.Equal(t, 4, a.Count("new"))
	assert.Equal(t, 1, a.Count("old"))
	assert.Equal(t, 1, a.dropped)

	assert.Error(t, a.Configure(ctx, modreg.Config{"retention_days": 0}))
}

func TestTheming(t *testing.T) {
	t.Run("builtin_and_file_themes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "themes.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sunrise:\n  color.primary: \"#ff9900\"\n"), 0o600))

		th := NewTheming()
		ctx := context.Background()
		require.NoError(t, th.Configure(ctx, modreg.Config{"default_theme": "sunrise", "tokens_path": path}))
		require.NoError(t, th.Initialize(ctx))

		tokens, ok := th.Theme("")
		require.True(t, ok)
		assert.Equal(t, "#ff9900", tokens["color.primary"])
		_, ok = th.Theme("night")
		assert.True(t, ok)
		_, ok = th.Theme("neon")
		assert.False(t, ok)
	})

	t.Run("unknown_default_fails_initialize", func(t *testing.T) {
		ctx := context.Background()
		reg := modreg.NewRegistry(modreg.WithContracts(Contracts()...))
		_, err := reg.Register(ctx, NewTheming(), modreg.WithConfig(modreg.Config{"default_theme": "neon"}))
		require.NoError(t, err)

		report, err := reg.InitializeAll(ctx)
		require.NoError(t, err)
		outcome, _ := report.Outcome("theming")
		assert.Equal(t, modreg.OutcomeFailed, outcome)
		assert.Contains(t, report.Modules["theming"].Error, `default theme "neon"`)
	})
}

func TestAuth(t *testing.T) {
	ctx := context.Background()
	a := NewAuth()
	assert.ErrorIs(t, a.Configure(ctx, modreg.Config{"session_ttl_minutes": 0}), ErrInvalidSessionTTL)

	require.NoError(t, a.Configure(ctx, modreg.Config{"session_ttl_minutes": 90.0, "allow_signup": true}))
	assert.Equal(t, 90*time.Minute, a.SessionTTL())
	assert.True(t, a.Authorize("admin", "anything"))
	assert.True(t, a.Authorize("driver", "record"))
	assert.False(t, a.Authorize("driver", "dispatch"))
	assert.True(t, a.Authorize("anonymous", "signup"))
	assert.False(t, a.Authorize("", "view"))
}

func TestAuthRejectsConfigThroughRegistry(t *testing.T) {
	ctx := context.Background()
	reg := modreg.NewRegistry()
	_, err := reg.Register(ctx, NewAuth())
	require.NoError(t, err)

	res, err := reg.Configure(ctx, "auth", modreg.Config{"session_ttl_minutes": -5})
	assert.ErrorIs(t, err, modreg.ErrConfiguration)
	assert.ErrorIs(t, err, ErrInvalidSessionTTL)
	assert.False(t, res.Valid)
	st, _ := reg.State("auth")
	assert.Equal(t, modreg.StateRegistered, st)
}
