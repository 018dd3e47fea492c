// Package registry defines the service registry the container publishes
// descriptors and handles into, and from which it tracks the launcher.
package registry

import (
	"fmt"
	"sort"
	"time"
)

// Well-known service properties
const (
	PropServiceID      = "service.id"
	PropObjectClass    = "objectClass"
	PropServicePID     = "service.pid"
	PropServiceRanking = "service.ranking"
)

// Properties are the published attributes of a registered service.
type Properties map[string]any

// Clone returns a shallow copy of p.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the property keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EventType is the kind of a ServiceEvent.
type EventType int

const (
	// EventRegistered is sent after a service has been registered.
	EventRegistered EventType = iota + 1
	// EventModified is sent after a service's properties have been updated.
	EventModified
	// EventUnregistering is sent after a service has been removed.
	EventUnregistering
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "REGISTERED"
	case EventModified:
		return "MODIFIED"
	case EventUnregistering:
		return "UNREGISTERING"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ServiceEvent describes a change to a registered service.
type ServiceEvent struct {
	Type      EventType
	Reference *ServiceReference
}

// Listener receives service events.
type Listener interface {
	ServiceChanged(event ServiceEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event ServiceEvent)

// ServiceChanged calls f(event).
func (f ListenerFunc) ServiceChanged(event ServiceEvent) { f(event) }

// Customizer is notified by a Tracker as matching services come and go.
// AddingService returns the object to track, or nil to ignore the service.
type Customizer interface {
	AddingService(ref *ServiceReference) any
	ModifiedService(ref *ServiceReference, service any)
	RemovedService(ref *ServiceReference, service any)
}

// ServiceEntry is the registry's record of one registered service.
type ServiceEntry struct {
	ID           int64
	Interfaces   []string
	Service      any
	Properties   Properties
	RegisteredAt time.Time
	UpdatedAt    time.Time
	removed      bool
}

func (e *ServiceEntry) ranking() int {
	switch v := e.Properties[PropServiceRanking].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
