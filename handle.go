package blueberry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/blueberry/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandleStatus is the lifecycle state of an application instance. States
// only ever move forward.
type HandleStatus int

const (
	StatusStarting HandleStatus = iota
	StatusActive
	StatusStopping
	StatusStopped
)

// String returns the state token reported by ApplicationHandle.State.
func (s HandleStatus) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// published returns the value of the application.state service property.
func (s HandleStatus) published() string {
	switch s {
	case StatusStarting:
		return "STARTING"
	case StatusActive:
		return "ACTIVE"
	case StatusStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

// DefaultApplicationWait bounds how long Application waits for a starting
// instance to construct its application object.
const DefaultApplicationWait = 5 * time.Second

// ApplicationHandle is one running (or finished) instance of an application.
// It is published under ServiceApplicationHandle while it is not stopped.
type ApplicationHandle struct {
	instanceID string
	descriptor *ApplicationDescriptor
	isDefault  bool

	mu           sync.Mutex
	arguments    map[string]any
	status       HandleStatus
	app          Application
	registration *registry.Registration
	resultSet    bool
	result       any
	resultErr    error

	appReady     chan struct{}
	appReadyOnce sync.Once
	resultReady  chan struct{}
	stopped      chan struct{}
	runningOnce  sync.Once
	appWait      time.Duration
}

func newApplicationHandle(instanceID string, args map[string]any, d *ApplicationDescriptor) *ApplicationHandle {
	arguments := make(map[string]any, len(args))
	for k, v := range args {
		arguments[k] = v
	}
	isDefault := false
	if v, ok := arguments[ArgDefault]; ok {
		isDefault, _ = v.(bool)
		delete(arguments, ArgDefault)
	}
	wait := DefaultApplicationWait
	if d.container != nil && d.container.appWait > 0 {
		wait = d.container.appWait
	}
	return &ApplicationHandle{
		instanceID:  instanceID,
		descriptor:  d,
		isDefault:   isDefault,
		arguments:   arguments,
		status:      StatusStarting,
		appReady:    make(chan struct{}),
		resultReady: make(chan struct{}),
		stopped:     make(chan struct{}),
		appWait:     wait,
	}
}

// InstanceID returns "<applicationId>.<n>".
func (h *ApplicationHandle) InstanceID() string { return h.instanceID }

// Descriptor returns the descriptor this instance was launched from.
func (h *ApplicationHandle) Descriptor() *ApplicationDescriptor { return h.descriptor }

// IsDefault reports whether this instance was launched as the default application.
func (h *ApplicationHandle) IsDefault() bool { return h.isDefault }

// Status returns the current lifecycle state without any registration check.
func (h *ApplicationHandle) Status() HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// State returns the state token. It fails with IllegalState once the
// instance has stopped and been withdrawn from the registry.
func (h *ApplicationHandle) State() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registration == nil && h.status == StatusStopped {
		return "", newAppError(CodeIllegalState, "this instance has been stopped")
	}
	return h.status.String(), nil
}

// Arguments returns a copy of the launch arguments.
func (h *ApplicationHandle) Arguments() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]any, len(h.arguments))
	for k, v := range h.arguments {
		out[k] = v
	}
	return out
}

// Application returns the application object. While the instance is still
// starting it waits a bounded time for the object to be constructed; it
// returns nil if that does not happen.
func (h *ApplicationHandle) Application() Application {
	h.mu.Lock()
	app, registered, ready := h.app, h.registration != nil, h.appReady
	h.mu.Unlock()
	if app != nil || !registered {
		return app
	}

	timer := time.NewTimer(h.appWait)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.app
}

// ExitValue returns the application's result. A zero timeout waits until the
// result is available; otherwise ResultNotAvailable is returned when the
// timeout elapses first. An instance that stopped before its application was
// created returns ResultNotAvailable as soon as it is stopped.
func (h *ApplicationHandle) ExitValue(timeout time.Duration) (any, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	stopped := h.stopped
	for {
		h.mu.Lock()
		if h.resultSet {
			defer h.mu.Unlock()
			return h.result, h.resultErr
		}
		if h.status == StatusStopped && h.app == nil {
			h.mu.Unlock()
			return nil, newAppError(CodeResultNotAvailable, "%s stopped without a result", h.instanceID)
		}
		h.mu.Unlock()

		select {
		case <-h.resultReady:
		case <-stopped:
			// Once stopped, an existing application always reports a result.
			stopped = nil
		case <-expired:
			return nil, newAppError(CodeResultNotAvailable, "%s has not finished after %s", h.instanceID, timeout)
		}
	}
}

// Run creates the application and runs it on the calling goroutine. It is
// the ApplicationRunnable side of the handle, used by launchers.
func (h *ApplicationHandle) Run(ctx context.Context, args any) (any, error) {
	c := h.descriptor.container
	ctx, span := c.tracer.Start(ctx, "blueberry.run", trace.WithAttributes(
		attribute.String("application.id", h.descriptor.ApplicationID()),
		attribute.String("application.instance", h.instanceID),
	))
	defer span.End()

	value, err := h.run(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return value, err
}

func (h *ApplicationHandle) run(ctx context.Context, args any) (any, error) {
	h.mu.Lock()
	if args != nil {
		if _, ok := h.arguments[ArgApplicationArgs]; !ok {
			h.arguments[ArgApplicationArgs] = args
		}
	}
	if h.status != StatusStarting && h.status != StatusStopping {
		h.mu.Unlock()
		h.resolveApp()
		return nil, newAppError(CodeInternal, "%s was stopped before it could start", h.instanceID)
	}
	app, err := h.descriptor.createApplication()
	if err != nil {
		h.mu.Unlock()
		h.resolveApp()
		_ = h.setInternalResult(nil, err)
		return nil, err
	}
	h.app = app
	changed := h.setStatusLocked(StatusActive)
	h.mu.Unlock()
	h.resolveApp()
	h.notifyTransitions(changed)

	value, err := h.startApplication(ctx, app)
	if err == nil && value == ExitAsyncResult {
		select {
		case <-h.resultReady:
		case <-h.stopped:
			// Destroyed before reporting: the result is empty.
			_ = h.setInternalResult(nil, nil)
		case <-ctx.Done():
			_ = h.Destroy()
			_ = h.setInternalResult(nil, ctx.Err())
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.resultErr
	}
	if setErr := h.setInternalResult(value, err); setErr != nil {
		c := h.descriptor.container
		c.logger.Warn("Application result already set", "instance", h.instanceID, "error", setErr)
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.resultErr
	}
	return value, err
}

func (h *ApplicationHandle) startApplication(ctx context.Context, app Application) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = newAppError(CodeRuntime, "application %s panicked: %v", h.instanceID, r)
		}
	}()
	return app.Start(ctx, handleContext{h})
}

// Stop destroys the instance; it lets the handle serve as an ApplicationRunnable.
func (h *ApplicationHandle) Stop() {
	if err := h.Destroy(); err != nil {
		h.descriptor.container.logger.Warn("Application did not stop cleanly", "instance", h.instanceID, "error", err)
	}
}

// Destroy stops the instance. It is idempotent: once stopping has begun it
// returns nil immediately. An error is returned only when the application's
// Stop panicked.
func (h *ApplicationHandle) Destroy() error {
	h.mu.Lock()
	if h.status >= StatusStopping {
		h.mu.Unlock()
		return nil
	}
	changed := h.setStatusLocked(StatusStopping)
	app := h.app
	h.mu.Unlock()
	h.notifyTransitions(changed)

	var stopErr error
	if app != nil {
		stopErr = h.stopApplication(app)
	}

	h.mu.Lock()
	changed = h.setStatusLocked(StatusStopped)
	h.mu.Unlock()
	h.resolveApp()
	h.notifyTransitions(changed)
	return stopErr
}

func (h *ApplicationHandle) stopApplication(app Application) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newAppError(CodeRuntime, "application %s panicked while stopping: %v", h.instanceID, r)
		}
	}()
	app.Stop()
	return nil
}

// setInternalResult records the result once, and drives the instance to
// Stopped.
func (h *ApplicationHandle) setInternalResult(value any, err error) error {
	h.mu.Lock()
	if h.resultSet {
		h.mu.Unlock()
		return newAppError(CodeIllegalState, "the result of %s has already been set", h.instanceID)
	}
	h.resultSet = true
	h.result = value
	h.resultErr = err
	close(h.resultReady)
	changed := h.setStatusLocked(StatusStopping)
	changed.add(h.setStatusLocked(StatusStopped))
	h.mu.Unlock()
	h.notifyTransitions(changed)
	return nil
}

// transitions collects the states entered under the handle lock together with
// the registry notifications that must run once it is released.
type transitions struct {
	states []HandleStatus
	fires  []func()
}

func (t *transitions) add(o transitions) {
	t.states = append(t.states, o.states...)
	t.fires = append(t.fires, o.fires...)
}

// setStatusLocked moves the instance forward to target. The registry sees
// the new properties, or the withdrawal on reaching Stopped, in the same
// critical section; listeners are told later by notifyTransitions.
func (h *ApplicationHandle) setStatusLocked(target HandleStatus) transitions {
	if target <= h.status {
		return transitions{}
	}
	h.status = target
	t := transitions{states: []HandleStatus{target}}
	logger := h.descriptor.container.logger
	if target == StatusStopped {
		close(h.stopped)
		if h.registration != nil {
			fire, err := h.registration.UnregisterDeferred()
			if err != nil {
				logger.Debug("Instance registration already withdrawn", "instance", h.instanceID, "error", err)
			} else {
				t.fires = append(t.fires, fire)
			}
			h.registration = nil
		}
		return t
	}
	if h.registration != nil {
		fire, err := h.registration.UpdateDeferred(h.propertiesLocked())
		if err != nil {
			logger.Debug("Instance properties not refreshed", "instance", h.instanceID, "error", err)
		} else {
			t.fires = append(t.fires, fire)
		}
	}
	return t
}

// notifyTransitions runs the side effects of state changes; it must be
// called without the handle lock.
func (h *ApplicationHandle) notifyTransitions(t transitions) {
	for _, fire := range t.fires {
		fire()
	}
	c := h.descriptor.container
	for _, s := range t.states {
		c.metrics.ObserveTransition(h.descriptor.ApplicationID(), s.String())
		c.logger.Debug("Application state changed", "instance", h.instanceID, "state", s.String())
		if s == StatusStopped {
			c.unlock(h)
		}
		c.emit(context.Background(), EventTypeApplicationState, map[string]any{
			"application": h.descriptor.ApplicationID(),
			"instance":    h.instanceID,
			"state":       s.String(),
		})
	}
}

func (h *ApplicationHandle) resolveApp() {
	h.appReadyOnce.Do(func() { close(h.appReady) })
}

func (h *ApplicationHandle) propertiesLocked() registry.Properties {
	return registry.Properties{
		registry.PropServicePID:   h.instanceID,
		PropApplicationState:      h.status.published(),
		PropApplicationDescriptor: h.descriptor.ApplicationID(),
		PropApplicationThread:     h.descriptor.Thread().String(),
		PropSupportsExitValue:     true,
		PropApplicationDefault:    h.isDefault,
	}
}

// Properties returns the instance's published properties, or nil once it
// has been withdrawn.
func (h *ApplicationHandle) Properties() registry.Properties {
	h.mu.Lock()
	reg := h.registration
	h.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Reference().Properties()
}

func (h *ApplicationHandle) register(services *registry.Registry) error {
	h.mu.Lock()
	if h.status == StatusStopped {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s already stopped", ErrIllegalState, h.instanceID)
	}
	reg, fire, err := services.RegisterDeferred([]string{ServiceApplicationHandle}, h, h.propertiesLocked())
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.registration = reg
	h.mu.Unlock()
	fire()
	return nil
}

// launchArguments returns what a launcher passes back into Run.
func (h *ApplicationHandle) launchArguments() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arguments[ArgApplicationArgs]
}

func (h *ApplicationHandle) String() string { return h.instanceID }

// handleContext is the ApplicationContext view of a handle.
type handleContext struct {
	h *ApplicationHandle
}

func (hc handleContext) Arguments() map[string]any { return hc.h.Arguments() }

func (hc handleContext) ApplicationRunning() {
	h := hc.h
	h.runningOnce.Do(func() {
		c := h.descriptor.container
		c.logger.Debug("Application running", "instance", h.instanceID)
		c.emit(context.Background(), EventTypeApplicationRunning, map[string]any{
			"application": h.descriptor.ApplicationID(),
			"instance":    h.instanceID,
		})
	})
}

func (hc handleContext) Branding() Branding {
	return hc.h.descriptor.container.Branding()
}

func (hc handleContext) SetResult(value any, err error) error {
	if value == ExitAsyncResult {
		return newAppError(CodeInvalidArgument, "ExitAsyncResult is not a result")
	}
	return hc.h.setInternalResult(value, err)
}
