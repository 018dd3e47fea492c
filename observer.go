// Package blueberry provides Observer pattern interfaces for event-driven communication.
// These interfaces use CloudEvents specification for standardized event format
// and better interoperability with external systems.
package blueberry

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of events.
// Observers register with Subjects to receive notifications when events occur.
type Observer interface {
	// OnEvent is called when an event occurs that the observer is interested in.
	// Observers should handle events quickly: framework events are delivered
	// synchronously and the framework waits for every observer.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed.
type Subject interface {
	// RegisterObserver adds an observer to receive notifications.
	// If eventTypes is empty, the observer receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Unknown observers are ignored.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all registered observers.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about currently registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventType constants for the events emitted by the framework and the
// application container. Following CloudEvents specification, these use
// reverse domain notation.
const (
	// Framework lifecycle events
	EventTypeFrameworkStarting = "com.blueberry.framework.starting"
	EventTypeFrameworkStarted  = "com.blueberry.framework.started"
	EventTypeFrameworkStopping = "com.blueberry.framework.stopping"
	EventTypeFrameworkStopped  = "com.blueberry.framework.stopped"

	// Descriptor events
	EventTypeDescriptorRegistered = "com.blueberry.descriptor.registered"
	EventTypeDescriptorRemoved    = "com.blueberry.descriptor.removed"

	// Application instance events
	EventTypeApplicationLaunched = "com.blueberry.application.launched"
	EventTypeApplicationDenied   = "com.blueberry.application.denied"
	EventTypeApplicationState    = "com.blueberry.application.state"
	EventTypeApplicationRunning  = "com.blueberry.application.running"
)

// ExtensionPluginID is the CloudEvents extension carrying the id of the
// plugin a framework event concerns. Zero is the bootstrap plugin, i.e. the
// framework itself.
const ExtensionPluginID = "pluginid"

// FunctionalObserver provides a simple way to create observers using functions.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates a new observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
