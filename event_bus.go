package blueberry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration holds information about a registered observer
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
	order        int
}

// EventBus is the Subject the framework and container publish through.
// Delivery is synchronous and in registration order: NotifyObservers returns
// after every interested observer has handled the event. Observer errors
// and panics are logged and joined into the returned error.
type EventBus struct {
	logger        Logger
	observers     map[string]*observerRegistration
	next          int
	observerMutex sync.RWMutex
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger Logger) *EventBus {
	return &EventBus{
		logger:    loggerOrNop(logger),
		observers: make(map[string]*observerRegistration),
	}
}

// RegisterObserver adds an observer. Registering an id again replaces the
// earlier registration but keeps its position.
func (b *EventBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return fmt.Errorf("%w: observer is nil", ErrInvalidArgument)
	}
	b.observerMutex.Lock()
	defer b.observerMutex.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	order := b.next
	if prev, ok := b.observers[observer.ObserverID()]; ok {
		order = prev.order
	} else {
		b.next++
	}
	b.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
		order:        order,
	}

	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer from receiving notifications.
func (b *EventBus) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return nil
	}
	b.observerMutex.Lock()
	defer b.observerMutex.Unlock()

	if _, exists := b.observers[observer.ObserverID()]; exists {
		delete(b.observers, observer.ObserverID())
		b.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

// NotifyObservers delivers event to every interested observer before returning.
func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	var errs []error
	for _, registration := range b.targets(event.Type()) {
		if err := b.deliver(ctx, registration, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) targets(eventType string) []*observerRegistration {
	b.observerMutex.RLock()
	defer b.observerMutex.RUnlock()
	out := make([]*observerRegistration, 0, len(b.observers))
	for _, registration := range b.observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[eventType] {
			continue
		}
		out = append(out, registration)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (b *EventBus) deliver(ctx context.Context, registration *observerRegistration, event cloudevents.Event) (err error) {
	id := registration.observer.ObserverID()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Observer panicked", "observerID", id, "event", event.Type(), "panic", r)
			err = fmt.Errorf("%w: observer %s panicked: %v", ErrRuntime, id, r)
		}
	}()
	if err := registration.observer.OnEvent(ctx, event); err != nil {
		b.logger.Error("Observer error", "observerID", id, "event", event.Type(), "error", err)
		return fmt.Errorf("observer %s: %w", id, err)
	}
	return nil
}

// GetObservers returns information about currently registered observers.
func (b *EventBus) GetObservers() []ObserverInfo {
	b.observerMutex.RLock()
	regs := make([]*observerRegistration, 0, len(b.observers))
	for _, r := range b.observers {
		regs = append(regs, r)
	}
	b.observerMutex.RUnlock()

	info := make([]ObserverInfo, 0, len(regs))
	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })
	for _, registration := range regs {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}
