package registry

import (
	"sync"
)

// Tracker follows the services registered under one interface and reports
// them to a Customizer. Customizer callbacks are never invoked while the
// tracker's own lock is held.
type Tracker struct {
	registry   *Registry
	iface      string
	customizer Customizer

	mu         sync.Mutex
	tracked    map[int64]*trackedService
	listenerID int64
	open       bool
}

type trackedService struct {
	ref     *ServiceReference
	service any
}

// NewTracker creates a tracker for iface. A nil customizer tracks the raw
// service objects.
func NewTracker(r *Registry, iface string, c Customizer) *Tracker {
	return &Tracker{
		registry:   r,
		iface:      iface,
		customizer: c,
		tracked:    make(map[int64]*trackedService),
	}
}

// Open starts tracking: existing services are added, then future changes
// are followed. Opening an open tracker is a no-op.
func (t *Tracker) Open() error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = true
	t.mu.Unlock()

	id, err := t.registry.AddListener(ListenerFunc(t.serviceChanged), t.iface, "")
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listenerID = id
	t.mu.Unlock()

	refs, err := t.registry.GetServiceReferences(t.iface, "")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		t.add(ref)
	}
	return nil
}

// Close stops tracking and reports every tracked service as removed.
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.open = false
	t.registry.RemoveListener(t.listenerID)
	removed := t.tracked
	t.tracked = make(map[int64]*trackedService)
	t.mu.Unlock()

	for _, ts := range removed {
		t.removed(ts)
	}
}

// Service returns the best tracked service (highest ranking, then lowest id), or nil.
func (t *Tracker) Service() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *trackedService
	for _, ts := range t.tracked {
		if best == nil {
			best = ts
			continue
		}
		br, tr := best.ref.entry.ranking(), ts.ref.entry.ranking()
		if tr > br || (tr == br && ts.ref.ID() < best.ref.ID()) {
			best = ts
		}
	}
	if best == nil {
		return nil
	}
	return best.service
}

// Size returns the number of tracked services.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

func (t *Tracker) serviceChanged(event ServiceEvent) {
	switch event.Type {
	case EventRegistered:
		t.add(event.Reference)
	case EventModified:
		t.mu.Lock()
		ts, ok := t.tracked[event.Reference.ID()]
		t.mu.Unlock()
		if !ok {
			t.add(event.Reference)
			return
		}
		if t.customizer != nil {
			t.customizer.ModifiedService(ts.ref, ts.service)
		}
	case EventUnregistering:
		t.mu.Lock()
		ts, ok := t.tracked[event.Reference.ID()]
		delete(t.tracked, event.Reference.ID())
		t.mu.Unlock()
		if ok {
			t.removed(ts)
		}
	}
}

func (t *Tracker) add(ref *ServiceReference) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	if _, exists := t.tracked[ref.ID()]; exists {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	var service any
	if t.customizer != nil {
		service = t.customizer.AddingService(ref)
	} else {
		service = t.registry.GetService(ref)
	}
	if service == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return
	}
	if _, exists := t.tracked[ref.ID()]; exists {
		return
	}
	t.tracked[ref.ID()] = &trackedService{ref: ref, service: service}
}

func (t *Tracker) removed(ts *trackedService) {
	if t.customizer != nil {
		t.customizer.RemovedService(ts.ref, ts.service)
	}
}
