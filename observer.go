package modreg

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of registry lifecycle events.
// Events follow the CloudEvents specification.
type Observer interface {
	// OnEvent is called synchronously from the goroutine that caused the
	// event. Observers should return quickly; errors are logged, never
	// propagated to the lifecycle operation.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration tracking.
	ObserverID() string
}

// Subject is implemented by the Registry.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes the observer
	// receives every event. Registering the same ID again replaces the
	// earlier registration.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers event to every interested observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers describes the current registrations.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes one registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the registry. They use reverse domain notation as
// recommended by CloudEvents.
const (
	EventTypeModuleRegistered   = "com.modreg.module.registered"
	EventTypeModuleConfigured   = "com.modreg.module.configured"
	EventTypeModuleInitialized  = "com.modreg.module.initialized"
	EventTypeModuleActivated    = "com.modreg.module.activated"
	EventTypeModuleDeactivated  = "com.modreg.module.deactivated"
	EventTypeModuleFailed       = "com.modreg.module.failed"
	EventTypeModuleBlocked      = "com.modreg.module.blocked"
	EventTypeModuleUnregistered = "com.modreg.module.unregistered"
	EventTypeBatchInitialized   = "com.modreg.batch.initialized"
	EventTypeBatchActivated     = "com.modreg.batch.activated"
	EventTypeHealthEvaluated    = "com.modreg.health.evaluated"
)

// eventSource is the CloudEvents source attribute for registry events.
const eventSource = "modreg.registry"

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent calls the handler.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer ID.
func (f *FunctionalObserver) ObserverID() string { return f.id }

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// subject holds observers in registration order.
type subject struct {
	mu        sync.RWMutex
	observers []*observerRegistration
	logger    func() Logger
}

func (s *subject) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return fmt.Errorf("register observer: %w", ErrNilObserver)
	}
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	reg := &observerRegistration{observer: observer, eventTypes: types, registeredAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			s.observers[i] = reg
			return nil
		}
	}
	s.observers = append(s.observers, reg)
	s.logger().Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *subject) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			s.logger().Debug("Observer unregistered", "observerID", observer.ObserverID())
			return nil
		}
	}
	return nil
}

func (s *subject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger().Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	s.mu.RLock()
	targets := make([]*observerRegistration, 0, len(s.observers))
	for _, reg := range s.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		targets = append(targets, reg)
	}
	s.mu.RUnlock()

	for _, reg := range targets {
		s.deliver(ctx, reg.observer, event)
	}
	return nil
}

func (s *subject) deliver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		s.logger().Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (s *subject) GetObservers() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := make([]ObserverInfo, 0, len(s.observers))
	for _, reg := range s.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registeredAt,
		})
	}
	return info
}

func (s *subject) hasObservers() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers) > 0
}
