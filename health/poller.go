// Package health runs caller-owned periodic health evaluation of a registry.
//
// The registry itself holds no timers. A Poller owns one cron entry that
// calls HealthAll on a schedule, remembers the latest result and a bounded
// history of summaries, and reports overall status changes to a callback.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modreg"
)

// Static errors for the health package
var (
	ErrAlreadyMonitoring = errors.New("health poller already running")
	ErrNotMonitoring     = errors.New("health poller not running")
	ErrNilChecker        = errors.New("health checker is nil")
)

// Checker is the part of *modreg.Registry the poller needs.
type Checker interface {
	HealthAll(ctx context.Context) modreg.SystemHealth
}

// StatusChangeCallback is called when the overall status differs from the
// previous poll. prev is the zero value on the first poll.
type StatusChangeCallback func(prev, cur modreg.SystemHealth)

// Sample is one history entry.
type Sample struct {
	At      time.Time            `json:"at"`
	Summary modreg.HealthSummary `json:"summary"`
}

// Poller periodically evaluates registry health.
type Poller struct {
	checker      Checker
	schedule     string
	timeout      time.Duration
	historyLimit int
	logger       modreg.Logger

	mu       sync.RWMutex
	cron     *cron.Cron
	last     *modreg.SystemHealth
	history  []Sample
	callback StatusChangeCallback
}

// Option configures a Poller.
type Option func(*Poller)

// WithSchedule sets the cron spec. Standard five-field specs and
// descriptors such as "@every 30s" are accepted. Default: "@every 30s".
func WithSchedule(spec string) Option {
	return func(p *Poller) { p.schedule = spec }
}

// WithTimeout bounds each poll. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHistoryLimit caps the stored samples. Default: 100.
func WithHistoryLimit(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.historyLimit = n
		}
	}
}

// WithLogger sets the logger for poll failures and cron diagnostics.
func WithLogger(l modreg.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCallback sets the status change callback.
func WithCallback(cb StatusChangeCallback) Option {
	return func(p *Poller) { p.callback = cb }
}

// NewPoller creates a stopped poller.
func NewPoller(checker Checker, opts ...Option) (*Poller, error) {
	if checker == nil {
		return nil, ErrNilChecker
	}
	p := &Poller{
		checker:      checker,
		schedule:     "@every 30s",
		timeout:      10 * time.Second,
		historyLimit: 100,
		logger:       modreg.NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return nil, fmt.Errorf("health poll schedule %q: %w", p.schedule, err)
	}
	return p, nil
}

// Start schedules polling. ctx is passed to every poll; cancelling it does
// not stop the schedule, Stop does.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return ErrAlreadyMonitoring
	}
	logger := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(p.schedule, func() { p.Poll(ctx) }); err != nil {
		return fmt.Errorf("schedule health poll: %w", err)
	}
	c.Start()
	p.cron = c
	p.logger.Info("Health polling started", "schedule", p.schedule)
	return nil
}

// Stop halts the schedule and waits for a running poll, bounded by ctx.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return ErrNotMonitoring
	}
	select {
	case <-c.Stop().Done():
		p.logger.Info("Health polling stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop health poller: %w", ctx.Err())
	}
}

// IsMonitoring reports whether the schedule is running.
func (p *Poller) IsMonitoring() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cron != nil
}

// Poll evaluates health once, records the result and fires the callback on
// a status change.
func (p *Poller) Poll(ctx context.Context) modreg.SystemHealth {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	sys := p.checker.HealthAll(ctx)

	p.mu.Lock()
	var prev modreg.SystemHealth
	first := p.last == nil
	if !first {
		prev = *p.last
	}
	p.last = &sys
	p.history = append(p.history, Sample{At: sys.CheckedAt, Summary: sys.Summary()})
	if over := len(p.history) - p.historyLimit; over > 0 {
		p.history = append(p.history[:0:0], p.history[over:]...)
	}
	cb := p.callback
	p.mu.Unlock()

	if sys.Status != modreg.StatusHealthy {
		p.logger.Warn("Registry health", "status", sys.Status, "issues", len(sys.Issues))
	}
	if cb != nil && (first || prev.Status != sys.Status) {
		cb(prev, sys)
	}
	return sys
}

// Last returns the most recent poll result.
func (p *Poller) Last() (modreg.SystemHealth, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return modreg.SystemHealth{}, false
	}
	return *p.last, true
}

// History returns samples taken at or after since, oldest first.
func (p *Poller) History(since time.Time) []Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Sample
	for _, s := range p.history {
		if !s.At.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// SetCallback replaces the status change callback.
func (p *Poller) SetCallback(cb StatusChangeCallback) {
	p.mu.Lock()
	p.callback = cb
	p.mu.Unlock()
}

// cronLogger adapts modreg.Logger to cron.Logger.
type cronLogger struct {
	logger modreg.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
