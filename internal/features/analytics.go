package features

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/modreg"
)

// ErrAnalyticsInactive is returned by Record outside the active window.
var ErrAnalyticsInactive = errors.New("analytics engine is not active")

// Event is one analytics record.
type Event struct {
	Name  string            `json:"name"`
	At    time.Time         `json:"at"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Analytics buffers events in memory and keeps per-name totals.
// It reports degraded health when the buffer is more than 80% full.
type Analytics struct {
	modreg.BaseModule

	mu        sync.Mutex
	retention time.Duration
	capacity  int
	buffer    []Event
	counts    map[string]int
	dropped   int
	active    bool
	now       func() time.Time
}

func NewAnalytics() *Analytics {
	return &Analytics{now: time.Now}
}

func (a *Analytics) Manifest() modreg.Manifest {
	return modreg.Manifest{
		Key:          "analytics",
		Version:      "1.4.0",
		Capabilities: []string{CapabilityAnalytics},
		Dependencies: []string{"auth"},
		ConfigSchema: modreg.ConfigSchema{Fields: []modreg.FieldSpec{
			{Name: "retention_days", Type: modreg.FieldInt, Default: 30},
			{Name: "buffer_size", Type: modreg.FieldInt, Default: 1024},
		}},
	}
}

func (a *Analytics) Configure(_ context.Context, cfg modreg.Config) error {
	days := cfg.Int("retention_days", 30)
	size := cfg.Int("buffer_size", 1024)
	if days <= 0 || size <= 0 {
		return fmt.Errorf("retention_days and buffer_size must be positive, got %d and %d", days, size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retention = time.Duration(days) * 24 * time.Hour
	a.capacity = size
	return nil
}

// Initialize is idempotent: an existing buffer is kept.
func (a *Analytics) Initialize(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = make(map[string]int)
		a.buffer = make([]Event, 0, a.capacity)
	}
	return nil
}

func (a *Analytics) Activate(context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return nil
}

// Deactivate stops accepting events and drops the buffer.
func (a *Analytics) Deactivate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.buffer = a.buffer[:0]
	return nil
}

// Record buffers event. The oldest events are dropped when the buffer is
// full, and events past retention are pruned.
func (a *Analytics) Record(event Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return ErrAnalyticsInactive
	}
	now := a.now()
	if event.At.IsZero() {
		event.At = now
	}

	cutoff := now.Add(-a.retention)
	keep := a.buffer[:0]
	for _, e := range a.buffer {
		if !e.At.Before(cutoff) {
			keep = append(keep, e)
		}
	}
	a.buffer = keep
	if len(a.buffer) >= a.capacity {
		a.buffer = append(a.buffer[:0], a.buffer[1:]...)
		a.dropped++
	}
	a.buffer = append(a.buffer, event)
	a.counts[event.Name]++
	return nil
}

// Count returns the number of events recorded under name.
func (a *Analytics) Count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[name]
}

func (a *Analytics) HealthCheck(context.Context) (modreg.HealthReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capacity == 0 {
		return modreg.Healthy(), nil
	}
	fill := len(a.buffer) * 100 / a.capacity
	if fill > 80 {
		return modreg.Degraded(fmt.Sprintf("event buffer %d%% full", fill)), nil
	}
	return modreg.Healthy(), nil
}
