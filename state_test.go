package modreg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := map[State][]State{
		StateRegistered:  {StateConfigured, StateFailed},
		StateConfigured:  {StateInitialized, StateDeactivated, StateFailed},
		StateInitialized: {StateActive, StateDeactivated, StateFailed},
		StateActive:      {StateDeactivated, StateFailed},
		StateDeactivated: {StateConfigured},
		StateFailed:      {StateConfigured},
	}
	all := []State{StateRegistered, StateConfigured, StateInitialized, StateActive, StateDeactivated, StateFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := checkTransition("auth", StateActive, StateConfigured)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), `"auth" cannot move from active to configured`)
}

func TestStateText(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		for st := StateRegistered; st <= StateFailed; st++ {
			parsed, err := ParseState(st.String())
			require.NoError(t, err)
			assert.Equal(t, st, parsed)
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(map[string]State{"auth": StateActive})
		require.NoError(t, err)
		assert.JSONEq(t, `{"auth":"active"}`, string(data))

		var back map[string]State
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, StateActive, back["auth"])
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseState("paused")
		assert.Error(t, err)
		assert.Equal(t, "state(42)", State(42).String())
	})
}
