// Package registry provides service registration and discovery capabilities
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Static errors for registry package
var (
	ErrNoInterfaces        = errors.New("service must be registered under at least one interface")
	ErrServiceNil          = errors.New("service is nil")
	ErrRegistrationRemoved = errors.New("service registration has been removed")
	ErrServiceNotFound     = errors.New("service not found")
	ErrListenerNil         = errors.New("listener is nil")
)

// Registry implements an in-process service registry keyed by interface name.
// Services are looked up by interface and an optional LDAP-style filter over
// their properties. Listener callbacks run on the goroutine that caused the
// change, after the registry lock has been released.
type Registry struct {
	mu          sync.RWMutex
	nextID      int64
	services    map[int64]*ServiceEntry
	byInterface map[string][]*ServiceEntry

	listenerMu     sync.RWMutex
	nextListenerID int64
	listeners      map[int64]*listenerEntry
}

type listenerEntry struct {
	listener Listener
	iface    string
	filter   *Filter
	addedAt  time.Time
}

// NewRegistry creates a new service registry
func NewRegistry() *Registry {
	return &Registry{
		services:    make(map[int64]*ServiceEntry),
		byInterface: make(map[string][]*ServiceEntry),
		listeners:   make(map[int64]*listenerEntry),
	}
}

// Register publishes service under the given interface names.
func (r *Registry) Register(interfaces []string, service any, props Properties) (*Registration, error) {
	reg, fire, err := r.RegisterDeferred(interfaces, service, props)
	if err != nil {
		return nil, err
	}
	fire()
	return reg, nil
}

// RegisterDeferred publishes service like Register but returns the listener
// notification instead of running it.
func (r *Registry) RegisterDeferred(interfaces []string, service any, props Properties) (*Registration, func(), error) {
	if len(interfaces) == 0 {
		return nil, nil, ErrNoInterfaces
	}
	if service == nil {
		return nil, nil, ErrServiceNil
	}

	r.mu.Lock()
	r.nextID++
	now := time.Now()
	entry := &ServiceEntry{
		ID:           r.nextID,
		Interfaces:   append([]string(nil), interfaces...),
		Service:      service,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	entry.Properties = r.stampProperties(entry, props)
	r.services[entry.ID] = entry
	for _, iface := range entry.Interfaces {
		r.byInterface[iface] = append(r.byInterface[iface], entry)
	}
	ref := &ServiceReference{registry: r, entry: entry}
	r.mu.Unlock()

	event := ServiceEvent{Type: EventRegistered, Reference: ref}
	return &Registration{registry: r, entry: entry, ref: ref}, func() { r.fire(event) }, nil
}

// stampProperties copies props and adds the registry-owned keys. Caller holds r.mu.
func (r *Registry) stampProperties(entry *ServiceEntry, props Properties) Properties {
	out := props.Clone()
	out[PropServiceID] = entry.ID
	out[PropObjectClass] = append([]string(nil), entry.Interfaces...)
	return out
}

func (r *Registry) update(entry *ServiceEntry, props Properties) (ServiceEvent, error) {
	r.mu.Lock()
	if entry.removed {
		r.mu.Unlock()
		return ServiceEvent{}, ErrRegistrationRemoved
	}
	entry.Properties = r.stampProperties(entry, props)
	entry.UpdatedAt = time.Now()
	ref := &ServiceReference{registry: r, entry: entry}
	r.mu.Unlock()
	return ServiceEvent{Type: EventModified, Reference: ref}, nil
}

func (r *Registry) unregister(entry *ServiceEntry) (ServiceEvent, error) {
	r.mu.Lock()
	if entry.removed {
		r.mu.Unlock()
		return ServiceEvent{}, ErrRegistrationRemoved
	}
	entry.removed = true
	delete(r.services, entry.ID)
	for _, iface := range entry.Interfaces {
		entries := r.byInterface[iface]
		for i, e := range entries {
			if e == entry {
				r.byInterface[iface] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(r.byInterface[iface]) == 0 {
			delete(r.byInterface, iface)
		}
	}
	ref := &ServiceReference{registry: r, entry: entry}
	r.mu.Unlock()
	return ServiceEvent{Type: EventUnregistering, Reference: ref}, nil
}

// GetServiceReferences returns the references registered under iface whose
// properties match filter. An empty filter matches everything. References are
// ordered by ranking (highest first) then by service id.
func (r *Registry) GetServiceReferences(iface, filter string) ([]*ServiceReference, error) {
	var f *Filter
	if filter != "" {
		parsed, err := ParseFilter(filter)
		if err != nil {
			return nil, err
		}
		f = parsed
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byInterface[iface]
	refs := make([]*ServiceReference, 0, len(entries))
	for _, e := range entries {
		if f != nil && !f.Match(e.Properties) {
			continue
		}
		refs = append(refs, &ServiceReference{registry: r, entry: e})
	}
	sortReferences(refs)
	return refs, nil
}

// GetServiceReference returns the best reference registered under iface, or nil.
func (r *Registry) GetServiceReference(iface string) *ServiceReference {
	refs, _ := r.GetServiceReferences(iface, "")
	if len(refs) == 0 {
		return nil
	}
	return refs[0]
}

// GetService returns the service object behind ref, or nil once it has been unregistered.
func (r *Registry) GetService(ref *ServiceReference) any {
	if ref == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ref.entry.removed {
		return nil
	}
	return ref.entry.Service
}

// List returns a snapshot of every registered service.
func (r *Registry) List() []*ServiceReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]*ServiceReference, 0, len(r.services))
	for _, e := range r.services {
		refs = append(refs, &ServiceReference{registry: r, entry: e})
	}
	sortReferences(refs)
	return refs
}

// AddListener registers l for events on services registered under iface
// (all services when iface is empty) that match filter. It returns an id for
// RemoveListener.
func (r *Registry) AddListener(l Listener, iface, filter string) (int64, error) {
	if l == nil {
		return 0, ErrListenerNil
	}
	var f *Filter
	if filter != "" {
		parsed, err := ParseFilter(filter)
		if err != nil {
			return 0, fmt.Errorf("listener filter: %w", err)
		}
		f = parsed
	}

	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.nextListenerID++
	r.listeners[r.nextListenerID] = &listenerEntry{listener: l, iface: iface, filter: f, addedAt: time.Now()}
	return r.nextListenerID, nil
}

// RemoveListener removes a listener. Unknown ids are ignored.
func (r *Registry) RemoveListener(id int64) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	delete(r.listeners, id)
}

func (r *Registry) fire(event ServiceEvent) {
	r.listenerMu.RLock()
	targets := make([]*listenerEntry, 0, len(r.listeners))
	ids := make([]int64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		targets = append(targets, r.listeners[id])
	}
	r.listenerMu.RUnlock()

	props := event.Reference.Properties()
	for _, t := range targets {
		if t.iface != "" && !event.Reference.HasInterface(t.iface) {
			continue
		}
		if t.filter != nil && !t.filter.Match(props) {
			continue
		}
		t.listener.ServiceChanged(event)
	}
}

func sortReferences(refs []*ServiceReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		ri, rj := refs[i].entry.ranking(), refs[j].entry.ranking()
		if ri != rj {
			return ri > rj
		}
		return refs[i].entry.ID < refs[j].entry.ID
	})
}

// ServiceReference is a handle on a registered service. Property reads
// observe the service's current properties.
type ServiceReference struct {
	registry *Registry
	entry    *ServiceEntry
}

// ID returns the registry-assigned service id.
func (s *ServiceReference) ID() int64 { return s.entry.ID }

// Interfaces returns the interface names the service was registered under.
func (s *ServiceReference) Interfaces() []string {
	return append([]string(nil), s.entry.Interfaces...)
}

// HasInterface reports whether the service was registered under iface.
func (s *ServiceReference) HasInterface(iface string) bool {
	for _, i := range s.entry.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// Property returns a single property value.
func (s *ServiceReference) Property(key string) any {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.entry.Properties[key]
}

// Properties returns a copy of the service properties.
func (s *ServiceReference) Properties() Properties {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.entry.Properties.Clone()
}

// Registration is returned by Register and owns the lifetime of one service.
type Registration struct {
	registry *Registry
	entry    *ServiceEntry
	ref      *ServiceReference
}

// Reference returns the service reference for this registration.
func (r *Registration) Reference() *ServiceReference { return r.ref }

// Update replaces the service's properties.
func (r *Registration) Update(props Properties) error {
	fire, err := r.UpdateDeferred(props)
	if err != nil {
		return err
	}
	fire()
	return nil
}

// Unregister removes the service. A second call returns ErrRegistrationRemoved.
func (r *Registration) Unregister() error {
	fire, err := r.UnregisterDeferred()
	if err != nil {
		return err
	}
	fire()
	return nil
}

// UpdateDeferred replaces the service's properties but leaves notifying
// listeners to the returned func. Callers that hold their own lock across the
// change run it after releasing that lock.
func (r *Registration) UpdateDeferred(props Properties) (func(), error) {
	event, err := r.registry.update(r.entry, props)
	if err != nil {
		return nil, err
	}
	return func() { r.registry.fire(event) }, nil
}

// UnregisterDeferred is the Unregister counterpart of UpdateDeferred.
func (r *Registration) UnregisterDeferred() (func(), error) {
	event, err := r.registry.unregister(r.entry)
	if err != nil {
		return nil, err
	}
	return func() { r.registry.fire(event) }, nil
}
