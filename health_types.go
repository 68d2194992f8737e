package modreg

import (
	"fmt"
	"time"
)

// HealthStatus is ordered by severity: Healthy < Degraded < Unhealthy.
type HealthStatus int

const (
	StatusHealthy HealthStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(s))
	}
}

// MarshalText renders the status name.
func (s HealthStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *HealthStatus) UnmarshalText(b []byte) error {
	v, err := ParseHealthStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseHealthStatus parses "healthy", "degraded" or "unhealthy".
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch s {
	case "healthy":
		return StatusHealthy, nil
	case "degraded":
		return StatusDegraded, nil
	case "unhealthy":
		return StatusUnhealthy, nil
	}
	return 0, fmt.Errorf("unknown health status %q", s)
}

// Worst returns the more severe of s and other.
func (s HealthStatus) Worst(other HealthStatus) HealthStatus {
	return max(s, other)
}

// HealthIssue is one finding, either self-reported or observed.
type HealthIssue struct {
	Severity HealthStatus `json:"severity"`
	Message  string       `json:"message"`
	Since    time.Time    `json:"since"`
}

// HealthReport is what a module says about itself.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Issues []HealthIssue `json:"issues,omitempty"`
}

// Healthy returns an issue-free report.
func Healthy() HealthReport { return HealthReport{Status: StatusHealthy} }

// Degraded returns a degraded report with one issue per message.
func Degraded(messages ...string) HealthReport {
	return withIssues(StatusDegraded, messages)
}

// Unhealthy returns an unhealthy report with one issue per message.
func Unhealthy(messages ...string) HealthReport {
	return withIssues(StatusUnhealthy, messages)
}

func withIssues(status HealthStatus, messages []string) HealthReport {
	r := HealthReport{Status: status}
	for _, m := range messages {
		r.Issues = append(r.Issues, HealthIssue{Severity: status, Message: m})
	}
	return r
}

// ModuleHealth is the combined view of one module: its self-report plus
// what the registry observes about its state and dependencies.
type ModuleHealth struct {
	Module string       `json:"module"`
	State  State        `json:"state"`
	Status HealthStatus `json:"status"`
	// Issues holds self-reported issues followed by observed ones.
	Issues     []HealthIssue `json:"issues,omitempty"`
	SelfReport *HealthReport `json:"selfReport,omitempty"`
	CheckedAt  time.Time     `json:"checkedAt"`
}

// TaggedIssue is an issue attributed to the module it came from.
type TaggedIssue struct {
	Module string `json:"module"`
	HealthIssue
}

// SystemHealth aggregates every Active module.
type SystemHealth struct {
	Status    HealthStatus   `json:"status"`
	Modules   []ModuleHealth `json:"modules"`
	Issues    []TaggedIssue  `json:"issues,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
}

// Summary counts modules per status.
func (h SystemHealth) Summary() HealthSummary {
	s := HealthSummary{Status: h.Status}
	for _, m := range h.Modules {
		switch m.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		default:
			s.Unhealthy++
		}
	}
	return s
}

// HealthSummary is a compact form of SystemHealth.
type HealthSummary struct {
	Status    HealthStatus `json:"status"`
	Healthy   int          `json:"healthy"`
	Degraded  int          `json:"degraded"`
	Unhealthy int          `json:"unhealthy"`
}
