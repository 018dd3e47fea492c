package blueberry

// LockReason says why a descriptor cannot currently be launched.
type LockReason int

const (
	NotLocked LockReason = iota
	LockedSingletonGlobalRunning
	LockedSingletonGlobalAppsRunning
	LockedSingletonScopedRunning
	LockedLimitedRunning
	LockedMainThreadRunning
)

func (r LockReason) String() string {
	switch r {
	case NotLocked:
		return "not-locked"
	case LockedSingletonGlobalRunning:
		return "singleton-global-running"
	case LockedSingletonGlobalAppsRunning:
		return "singleton-global-apps-running"
	case LockedSingletonScopedRunning:
		return "singleton-scoped-running"
	case LockedLimitedRunning:
		return "limited-running"
	case LockedMainThreadRunning:
		return "main-thread-running"
	default:
		return "unknown"
	}
}

// isLockedLocked evaluates the admission rules for d in order; the first
// rule that applies wins. c.mu must be held.
func (c *ApplicationContainer) isLockedLocked(d *ApplicationDescriptor) LockReason {
	card := d.Cardinality()

	if c.activeGlobalSingleton != nil {
		return LockedSingletonGlobalRunning
	}
	if card.Kind == SingletonGlobal && len(c.activeHandles) > 0 {
		return LockedSingletonGlobalAppsRunning
	}
	if card.Kind == SingletonScoped && c.activeScoped[d.ApplicationID()] != nil {
		return LockedSingletonScopedRunning
	}
	if card.Kind == Limited && len(c.activeLimited[d.ApplicationID()]) >= card.Limit {
		return LockedLimitedRunning
	}
	if d.Thread() == MainThread && c.activeMain != nil {
		return LockedMainThreadRunning
	}
	return NotLocked
}

// IsLocked reports the admission decision the container would make for d now.
func (c *ApplicationContainer) IsLocked(d *ApplicationDescriptor) LockReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLockedLocked(d)
}

// lock admits h or fails with ApplicationNotLaunchable. Admission and
// recording happen in one critical section.
func (c *ApplicationContainer) lock(h *ApplicationHandle) error {
	d := h.Descriptor()
	defer c.flushServiceEvents()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reason := c.isLockedLocked(d); reason {
	case NotLocked:
	case LockedSingletonGlobalRunning:
		return c.denyLocked(d, reason, "a singleton application instance is already running: %s", c.activeGlobalSingleton.InstanceID())
	case LockedSingletonGlobalAppsRunning:
		return c.denyLocked(d, reason, "another application is running")
	case LockedSingletonScopedRunning:
		return c.denyLocked(d, reason, "a singleton application instance is already running: %s", c.activeScoped[d.ApplicationID()].InstanceID())
	case LockedLimitedRunning:
		return c.denyLocked(d, reason, "the maximum number of application instances is running: %s", d.Cardinality())
	case LockedMainThreadRunning:
		return c.denyLocked(d, reason, "a main-thread application is already running: %s", c.activeMain.InstanceID())
	}

	switch d.Cardinality().Kind {
	case SingletonGlobal:
		c.activeGlobalSingleton = h
	case SingletonScoped:
		c.activeScoped[d.ApplicationID()] = h
	case Limited:
		c.activeLimited[d.ApplicationID()] = append(c.activeLimited[d.ApplicationID()], h)
	}
	if d.Thread() == MainThread {
		c.activeMain = h
	}
	c.activeHandles[h] = struct{}{}
	c.metrics.SetActiveHandles(len(c.activeHandles))
	c.refreshDescriptorsLocked()
	return nil
}

func (c *ApplicationContainer) denyLocked(d *ApplicationDescriptor, reason LockReason, format string, args ...any) error {
	err := newAppError(CodeNotLaunchable, format, args...)
	err.Reason = reason
	c.metrics.ObserveAdmissionDenied(d.ApplicationID(), reason.String())
	c.logger.Debug("Application launch denied", "application", d.ApplicationID(), "reason", reason.String())
	return err
}

// unlock releases every slot h occupies. Unlocking a handle that holds no
// slot is a no-op.
func (c *ApplicationContainer) unlock(h *ApplicationHandle) {
	id := h.Descriptor().ApplicationID()
	defer c.flushServiceEvents()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeGlobalSingleton == h {
		c.activeGlobalSingleton = nil
	}
	if c.activeScoped[id] == h {
		delete(c.activeScoped, id)
	}
	if limited := c.activeLimited[id]; len(limited) > 0 {
		kept := limited[:0]
		for _, other := range limited {
			if other != h {
				kept = append(kept, other)
			}
		}
		if len(kept) == 0 {
			delete(c.activeLimited, id)
		} else {
			c.activeLimited[id] = kept
		}
	}
	if c.activeMain == h {
		c.activeMain = nil
	}
	if _, ok := c.activeHandles[h]; ok {
		delete(c.activeHandles, h)
		c.metrics.SetActiveHandles(len(c.activeHandles))
		c.refreshDescriptorsLocked()
	}
}

// refreshDescriptorsLocked republishes the launchable state of every
// descriptor. c.mu must be held.
func (c *ApplicationContainer) refreshDescriptorsLocked() {
	for _, d := range c.apps {
		d.refreshLocked(c.isLockedLocked(d) == NotLocked)
	}
}

// flushServiceEvents delivers the registry notifications queued while c.mu
// was held. It must be called without c.mu.
func (c *ApplicationContainer) flushServiceEvents() {
	c.mu.Lock()
	pending := c.pendingServiceEvents
	c.pendingServiceEvents = nil
	c.mu.Unlock()
	for _, fire := range pending {
		fire()
	}
}
