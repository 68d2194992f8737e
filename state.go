package modreg

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a module instance.
type State int

const (
	// StateRegistered is the initial state after Register.
	StateRegistered State = iota
	// StateConfigured means a configuration has been validated and accepted.
	StateConfigured
	// StateInitialized means the module's Initialize step succeeded.
	StateInitialized
	// StateActive means the module is serving its capabilities.
	StateActive
	// StateDeactivated is the result of a graceful shutdown.
	StateDeactivated
	// StateFailed records an unrecoverable error in the module's own step.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateConfigured:
		return "configured"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON and YAML encoders.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState parses a state name produced by String.
func ParseState(s string) (State, error) {
	for st := StateRegistered; st <= StateFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("invalid module state: %s", s)
}

// transitions is the closed transition table. Deactivated is reachable from
// Configured and Initialized only when a dependent is forced down during
// Unregister.
var transitions = map[State][]State{
	StateRegistered:  {StateConfigured, StateFailed},
	StateConfigured:  {StateInitialized, StateDeactivated, StateFailed},
	StateInitialized: {StateActive, StateDeactivated, StateFailed},
	StateActive:      {StateDeactivated, StateFailed},
	StateDeactivated: {StateConfigured},
	StateFailed:      {StateConfigured},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(key string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: module %q cannot move from %s to %s", ErrInvalidTransition, key, from, to)
	}
	return nil
}

// Transition is one entry in an instance's history.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Cause string    `json:"cause,omitempty"`
}
