package features

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modreg"
)

// ErrInvalidSessionTTL is returned for a non-positive session TTL.
var ErrInvalidSessionTTL = errors.New("session_ttl_minutes must be positive")

// Role permissions. "*" grants every action.
var rolePermissions = map[string][]string{
	"admin":      {"*"},
	"dispatcher": {"view", "dispatch", "report"},
	"driver":     {"view", "record"},
}

// Auth is a role-based authorization provider.
type Auth struct {
	modreg.BaseModule

	mu          sync.RWMutex
	ttl         time.Duration
	allowSignup bool
}

func NewAuth() *Auth { return &Auth{} }

func (a *Auth) Manifest() modreg.Manifest {
	return modreg.Manifest{
		Key:          "auth",
		Version:      "2.0.1",
		Capabilities: []string{CapabilityAuth},
		ConfigSchema: modreg.ConfigSchema{Fields: []modreg.FieldSpec{
			{Name: "session_ttl_minutes", Type: modreg.FieldInt, Required: true},
			{Name: "allow_signup", Type: modreg.FieldBool, Default: false},
		}},
	}
}

func (a *Auth) Configure(_ context.Context, cfg modreg.Config) error {
	ttl := cfg.Int("session_ttl_minutes", 0)
	if ttl <= 0 {
		return ErrInvalidSessionTTL
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ttl = time.Duration(ttl) * time.Minute
	a.allowSignup = cfg.Bool("allow_signup", false)
	return nil
}

// Authorize reports whether role may perform action. Anonymous callers may
// only sign up, and only when signup is enabled.
func (a *Auth) Authorize(role, action string) bool {
	if role == "" || role == "anonymous" {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return action == "signup" && a.allowSignup
	}
	perms := rolePermissions[role]
	return slices.Contains(perms, "*") || slices.Contains(perms, action)
}

func (a *Auth) SessionTTL() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ttl
}
