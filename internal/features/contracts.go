// Package features holds the feature modules the daemon ships with:
// theming, authentication, analytics and delivery tracking. Each is an
// independent modreg.Module; they find each other only through capabilities.
package features

import (
	"time"

	"github.com/GoCodeAlone/modreg"
)

// Capability names.
const (
	CapabilityTheme     = "theme-provider"
	CapabilityAuth      = "auth-provider"
	CapabilityAnalytics = "analytics-engine"
	CapabilityDelivery  = "delivery-tracking"
)

// ThemeProvider resolves design tokens.
type ThemeProvider interface {
	Theme(name string) (Tokens, bool)
	DefaultTheme() string
}

// AuthProvider answers role/action authorization questions.
type AuthProvider interface {
	Authorize(role, action string) bool
	SessionTTL() time.Duration
}

// AnalyticsEngine records and counts named events.
type AnalyticsEngine interface {
	Record(event Event) error
	Count(name string) int
}

// DeliveryTracker checks cold-chain compliance of deliveries.
type DeliveryTracker interface {
	Check(docket Docket) Compliance
}

// Contracts returns the capability contracts for every feature.
func Contracts() []modreg.CapabilityContract {
	return []modreg.CapabilityContract{
		modreg.NewContract[ThemeProvider](CapabilityTheme, "1.0.0"),
		modreg.NewContract[AuthProvider](CapabilityAuth, "1.0.0"),
		modreg.NewContract[AnalyticsEngine](CapabilityAnalytics, "1.0.0"),
		modreg.NewContract[DeliveryTracker](CapabilityDelivery, "1.0.0"),
	}
}

// CapabilityLookup is how features reach each other at run time.
type CapabilityLookup interface {
	GetByCapability(name string) (any, bool)
}

// All returns one instance of every feature module. lookup is usually the
// registry they are registered with.
func All(lookup CapabilityLookup) []modreg.Module {
	return []modreg.Module{
		NewTheming(),
		NewAuth(),
		NewAnalytics(),
		NewDelivery(lookup),
	}
}
