package modreg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeactivate(t *testing.T) {
	ctx := context.Background()

	t.Run("dependents_first", func(t *testing.T) {
		log := &callLog{}
		r := NewRegistry()
		mods := []*stubModule{newStub("a"), newStub("b", "a"), newStub("c", "b"), newStub("other")}
		for _, m := range mods {
			m.log = log
			registerConfigured(t, r, m)
		}
		startAll(t, r)

		require.NoError(t, r.Deactivate(ctx, "a"))
		var deactivations []string
		for _, c := range log.list() {
			if len(c) > 11 && c[:11] == "deactivate:" {
				deactivations = append(deactivations, c[11:])
			}
		}
		assert.Equal(t, []string{"c", "b", "a"}, deactivations)
		assert.Equal(t, StateActive, mustState(t, r, "other"))

		info, _ := r.Instance("b")
		last := info.History[len(info.History)-1]
		assert.Equal(t, "dependency a deactivated", last.Cause)
	})

	t.Run("already_deactivated_is_noop", func(t *testing.T) {
		r := NewRegistry()
		registerConfigured(t, r, newStub("a"))
		startAll(t, r)
		require.NoError(t, r.Deactivate(ctx, "a"))
		require.NoError(t, r.Deactivate(ctx, "a"))
		assert.Equal(t, StateDeactivated, mustState(t, r, "a"))
	})

	t.Run("failure_moves_to_failed", func(t *testing.T) {
		r := NewRegistry()
		m := newStub("a")
		m.deactivateErr = errors.New("flush failed")
		registerConfigured(t, r, m)
		startAll(t, r)

		err := r.Deactivate(ctx, "a")
		require.ErrorIs(t, err, ErrDeactivationFailure)
		assert.Equal(t, StateFailed, mustState(t, r, "a"))
	})

	t.Run("illegal_from_registered", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(ctx, newStub("a"))
		require.NoError(t, err)
		assert.ErrorIs(t, r.Deactivate(ctx, "a"), ErrInvalidTransition)
	})

	t.Run("dependent_cannot_start_while_dependency_stops", func(t *testing.T) {
		r := NewRegistry()
		a := newStub("a")
		a.deactivateBlock = make(chan struct{})
		a.deactivateEntered = make(chan struct{})
		registerConfigured(t, r, a)
		startAll(t, r)
		registerConfigured(t, r, newStub("b", "a"))

		done := make(chan error, 1)
		go func() { done <- r.Deactivate(ctx, "a") }()
		<-a.deactivateEntered

		assert.ErrorIs(t, r.Initialize(ctx, "b"), ErrDependencyNotReady)
		report, err := r.InitializeAll(ctx)
		require.NoError(t, err)
		outcome, _ := report.Outcome("b")
		assert.Equal(t, OutcomeBlocked, outcome)

		close(a.deactivateBlock)
		require.NoError(t, <-done)
		assert.Equal(t, StateDeactivated, mustState(t, r, "a"))
		assert.Equal(t, StateConfigured, mustState(t, r, "b"))
	})

	t.Run("reenter_after_deactivation", func(t *testing.T) {
		r := NewRegistry()
		m := newStub("a")
		registerConfigured(t, r, m)
		startAll(t, r)
		require.NoError(t, r.Deactivate(ctx, "a"))

		_, err := r.Configure(ctx, "a", Config{})
		require.NoError(t, err)
		startAll(t, r)
		assert.Equal(t, StateActive, mustState(t, r, "a"))
		initCalls, activeCalls := m.counts()
		assert.Equal(t, 2, initCalls)
		assert.Equal(t, 2, activeCalls)
	})
}

func TestDeactivateAll(t *testing.T) {
	log := &callLog{}
	r := NewRegistry()
	for _, m := range []*stubModule{newStub("auth"), newStub("analytics", "auth"), newStub("delivery", "auth", "analytics"), newStub("theming")} {
		m.log = log
		registerConfigured(t, r, m)
	}
	startAll(t, r)

	require.NoError(t, r.DeactivateAll(context.Background()))
	var order []string
	for _, c := range log.list() {
		if len(c) > 11 && c[:11] == "deactivate:" {
			order = append(order, c[11:])
		}
	}
	assert.Equal(t, []string{"theming", "delivery", "analytics", "auth"}, order)
	for _, info := range r.List() {
		assert.Equal(t, StateDeactivated, info.State)
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()

	t.Run("forces_dependents_down", func(t *testing.T) {
		r := NewRegistry()
		registerConfigured(t, r, newStub("a"), newStub("b", "a"))
		startAll(t, r)

		require.NoError(t, r.Unregister(ctx, "a"))
		_, ok := r.Instance("a")
		assert.False(t, ok)
		assert.Equal(t, StateDeactivated, mustState(t, r, "b"))
		_, ok = r.GetByCapability("a-cap")
		assert.False(t, ok)
		_, ok = r.ResolvedProvider("a-cap")
		assert.False(t, ok)
	})

	t.Run("configured_dependents_deactivated", func(t *testing.T) {
		r := NewRegistry()
		registerConfigured(t, r, newStub("a"), newStub("b", "a"))
		require.NoError(t, r.Unregister(ctx, "a"))
		assert.Equal(t, StateDeactivated, mustState(t, r, "b"))
	})

	t.Run("deactivation_error_returned_but_removed", func(t *testing.T) {
		r := NewRegistry()
		m := newStub("a")
		m.deactivateErr = errors.New("stuck")
		registerConfigured(t, r, m)
		startAll(t, r)

		err := r.Unregister(ctx, "a")
		assert.ErrorIs(t, err, ErrDeactivationFailure)
		_, ok := r.Instance("a")
		assert.False(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.ErrorIs(t, NewRegistry().Unregister(ctx, "ghost"), ErrModuleNotFound)
	})

	t.Run("emits_event", func(t *testing.T) {
		r := NewRegistry()
		obs := newRecordingObserver("rec")
		require.NoError(t, r.RegisterObserver(obs, EventTypeModuleUnregistered))
		registerConfigured(t, r, newStub("a"))
		require.NoError(t, r.Unregister(ctx, "a"))
		assert.Equal(t, []string{EventTypeModuleUnregistered}, obs.types())
	})
}
