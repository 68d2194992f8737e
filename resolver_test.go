package modreg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrder(t *testing.T) {
	t.Run("chain", func(t *testing.T) {
		order, err := TopologicalOrder(Graph{"c": {"b"}, "b": {"a"}, "a": nil})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("lexical_tie_break", func(t *testing.T) {
		g := Graph{"zeta": nil, "alpha": nil, "mid": {"zeta"}, "beta": nil}
		for i := 0; i < 20; i++ {
			order, err := TopologicalOrder(g)
			require.NoError(t, err)
			assert.Equal(t, []string{"alpha", "beta", "zeta", "mid"}, order)
		}
	})

	t.Run("diamond", func(t *testing.T) {
		order, err := TopologicalOrder(Graph{
			"app":  {"left", "right"},
			"left": {"base"}, "right": {"base"},
			"base": nil,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "left", "right", "app"}, order)
	})

	t.Run("external_and_duplicate_deps_ignored", func(t *testing.T) {
		order, err := TopologicalOrder(Graph{"b": {"a", "a", "outside"}, "a": nil})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("empty", func(t *testing.T) {
		order, err := TopologicalOrder(Graph{})
		require.NoError(t, err)
		assert.Empty(t, order)
	})
}

func TestTopologicalOrderCycles(t *testing.T) {
	t.Run("exact_members", func(t *testing.T) {
		// downstream depends on the cycle but is not part of it.
		_, err := TopologicalOrder(Graph{
			"a": {"b"}, "b": {"a"},
			"downstream": {"a"},
			"free":       nil,
		})
		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.ErrorIs(t, err, ErrDependencyCycle)
		assert.Equal(t, [][]string{{"a", "b"}}, cycleErr.Cycles)
		assert.Equal(t, []string{"a", "b"}, cycleErr.Members())
	})

	t.Run("partial_order_returned", func(t *testing.T) {
		order, err := TopologicalOrder(Graph{"a": {"b"}, "b": {"a"}, "free": nil})
		require.Error(t, err)
		assert.Equal(t, []string{"free"}, order)
	})

	t.Run("several_cycles_sorted", func(t *testing.T) {
		_, err := TopologicalOrder(Graph{
			"x": {"y"}, "y": {"z"}, "z": {"x"},
			"c": {"d"}, "d": {"c"},
			"self": {"self"},
		})
		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, [][]string{{"c", "d"}, {"self"}, {"x", "y", "z"}}, cycleErr.Cycles)
		assert.Equal(t, "dependency cycle detected: {c, d} {self} {x, y, z}", cycleErr.Error())
	})
}

func TestGraphDependents(t *testing.T) {
	g := Graph{
		"auth":      nil,
		"analytics": {"auth"},
		"delivery":  {"auth", "analytics"},
		"theming":   nil,
	}
	assert.Equal(t, []string{"analytics", "delivery"}, g.Dependents("auth"))
	assert.Equal(t, []string{"delivery"}, g.Dependents("analytics"))
	assert.Empty(t, g.Dependents("theming"))
}
