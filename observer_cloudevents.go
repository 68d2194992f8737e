package modreg

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// NewCloudEvent creates a CloudEvent with the registry's conventions.
func NewCloudEvent(eventType, source string, data any, extensions map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range extensions {
		event.SetExtension(key, value)
	}
	return event
}

// generateEventID returns a time-ordered UUIDv7, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates event with the SDK's rules.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// ModuleEventData is the payload of module.* events.
type ModuleEventData struct {
	Module string `json:"module"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Cause  string `json:"cause,omitempty"`
	Error  string `json:"error,omitempty"`
}

// emit builds and delivers an event if anyone is listening.
func (r *Registry) emit(ctx context.Context, eventType string, data any) {
	if !r.subject.hasObservers() {
		return
	}
	event := NewCloudEvent(eventType, eventSource, data, nil)
	event.SetTime(r.now())
	if err := r.NotifyObservers(ctx, event); err != nil {
		r.logger.Error("Failed to notify observers", "event", eventType, "error", err)
	}
}
