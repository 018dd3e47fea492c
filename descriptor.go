package blueberry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/GoCodeAlone/blueberry/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ThreadAffinity says where an application's Start must run.
type ThreadAffinity int

const (
	MainThread ThreadAffinity = iota
	AnyThread
)

func (t ThreadAffinity) String() string {
	if t == AnyThread {
		return "any"
	}
	return "main"
}

// CardinalityKind is the admission policy family of a descriptor.
type CardinalityKind int

const (
	SingletonGlobal CardinalityKind = iota
	SingletonScoped
	Unlimited
	Limited
)

// Cardinality bounds how many instances of an application may run at once.
// Limit is only meaningful for Limited.
type Cardinality struct {
	Kind  CardinalityKind
	Limit int
}

// String renders the cardinality the way it is declared.
func (c Cardinality) String() string {
	switch c.Kind {
	case SingletonScoped:
		return "singleton-scoped"
	case Unlimited:
		return "*"
	case Limited:
		return strconv.Itoa(c.Limit)
	default:
		return "singleton-global"
	}
}

// ParseCardinality parses a declared cardinality. Empty or unrecognized
// values yield singleton-global and ok=false.
func ParseCardinality(s string) (c Cardinality, ok bool) {
	switch s = strings.TrimSpace(s); s {
	case "singleton-global":
		return Cardinality{Kind: SingletonGlobal}, true
	case "singleton-scoped":
		return Cardinality{Kind: SingletonScoped}, true
	case "*":
		return Cardinality{Kind: Unlimited}, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Cardinality{Kind: SingletonGlobal}, false
	}
	return Cardinality{Kind: Limited, Limit: n}, true
}

// DescriptorSpec holds the immutable attributes of an ApplicationDescriptor.
type DescriptorSpec struct {
	ID          string
	Name        string
	Icon        string
	Thread      ThreadAffinity
	Cardinality Cardinality
	Visible     bool
	Default     bool
	Contributor string
}

// ApplicationDescriptor is the launchable definition of one application
// extension. Descriptors are created by the container and published in the
// service registry under ServiceApplicationDescriptor.
type ApplicationDescriptor struct {
	spec      DescriptorSpec
	container *ApplicationContainer

	mu              sync.Mutex
	locked          bool
	instanceCounter int
	registration    *registry.Registration
}

func newApplicationDescriptor(spec DescriptorSpec, container *ApplicationContainer) *ApplicationDescriptor {
	if spec.Name == "" {
		spec.Name = spec.ID
	}
	return &ApplicationDescriptor{spec: spec, container: container}
}

// ApplicationID returns the unique id of the application extension.
func (d *ApplicationDescriptor) ApplicationID() string { return d.spec.ID }

// Name returns the human readable name.
func (d *ApplicationDescriptor) Name() string { return d.spec.Name }

// Icon returns the declared icon path, or "".
func (d *ApplicationDescriptor) Icon() string { return d.spec.Icon }

// Thread returns the thread affinity.
func (d *ApplicationDescriptor) Thread() ThreadAffinity { return d.spec.Thread }

// Cardinality returns the admission policy.
func (d *ApplicationDescriptor) Cardinality() Cardinality { return d.spec.Cardinality }

// Visible reports whether the application should be shown to users.
func (d *ApplicationDescriptor) Visible() bool { return d.spec.Visible }

// IsDefault reports whether this is the container's default application.
func (d *ApplicationDescriptor) IsDefault() bool { return d.spec.Default }

// Contributor returns the plugin that contributed the extension.
func (d *ApplicationDescriptor) Contributor() string { return d.spec.Contributor }

// Locked reports whether the descriptor has been locked against launches.
func (d *ApplicationDescriptor) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Lock prevents further launches until Unlock.
func (d *ApplicationDescriptor) Lock() {
	d.mu.Lock()
	d.locked = true
	d.mu.Unlock()
	d.RefreshProperties()
}

// Unlock re-enables launches.
func (d *ApplicationDescriptor) Unlock() {
	d.mu.Lock()
	d.locked = false
	d.mu.Unlock()
	d.RefreshProperties()
}

// Launch creates and starts a new instance of the application. args may be
// nil; keys must be non-empty. The reserved ArgDefault key marks the instance
// as the default application and is not passed on.
func (d *ApplicationDescriptor) Launch(ctx context.Context, args map[string]any) (*ApplicationHandle, error) {
	for k := range args {
		if k == "" {
			return nil, newAppError(CodeInvalidArgument, "launch arguments must have non-empty keys")
		}
	}
	if d.container == nil {
		return nil, newAppError(CodeIllegalState, "descriptor %s is not attached to a container", d.spec.ID)
	}

	ctx, span := d.container.tracer.Start(ctx, "blueberry.launch", trace.WithAttributes(
		attribute.String("application.id", d.spec.ID),
		attribute.String("application.thread", d.spec.Thread.String()),
		attribute.String("application.cardinality", d.spec.Cardinality.String()),
	))
	defer span.End()

	handle, err := d.launch(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("application.instance", handle.InstanceID()))
	return handle, nil
}

func (d *ApplicationDescriptor) launch(ctx context.Context, args map[string]any) (*ApplicationHandle, error) {
	c := d.container

	d.mu.Lock()
	if d.locked {
		d.mu.Unlock()
		c.metrics.ObserveLaunch(d.spec.ID, "locked")
		return nil, newAppError(CodeIllegalState, "application %s is locked", d.spec.ID)
	}
	instanceID := d.nextInstanceIDLocked()
	d.mu.Unlock()

	handle := newApplicationHandle(instanceID, args, d)
	if err := c.lock(handle); err != nil {
		c.metrics.ObserveLaunch(d.spec.ID, "denied")
		return nil, err
	}
	if err := handle.register(c.services); err != nil {
		c.unlock(handle)
		c.metrics.ObserveLaunch(d.spec.ID, "failed")
		return nil, newAppError(CodeInternal, "register %s: %v", instanceID, err)
	}
	if err := c.launch(ctx, handle); err != nil {
		_ = handle.Destroy()
		c.metrics.ObserveLaunch(d.spec.ID, "failed")
		c.logger.Error("Failed to launch application", "application", d.spec.ID, "instance", instanceID, "error", err)
		return nil, err
	}

	c.metrics.ObserveLaunch(d.spec.ID, "launched")
	c.logger.Info("Launched application", "application", d.spec.ID, "instance", instanceID, "default", handle.IsDefault())
	c.emit(ctx, EventTypeApplicationLaunched, map[string]any{
		"application": d.spec.ID,
		"instance":    instanceID,
		"default":     handle.IsDefault(),
	})
	return handle, nil
}

// nextInstanceIDLocked mints "<appId>.<n>". The counter wraps to zero
// rather than overflowing.
func (d *ApplicationDescriptor) nextInstanceIDLocked() string {
	id := fmt.Sprintf("%s.%d", d.spec.ID, d.instanceCounter)
	if d.instanceCounter == math.MaxInt {
		d.instanceCounter = 0
	} else {
		d.instanceCounter++
	}
	return id
}

// RefreshProperties republishes the descriptor's service properties, picking
// up the current lock and launchable state.
func (d *ApplicationDescriptor) RefreshProperties() {
	if d.container == nil {
		return
	}
	c := d.container
	defer c.flushServiceEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	d.refreshLocked(c.isLockedLocked(d) == NotLocked)
}

// refreshLocked must be called with the container lock held. Listeners hear
// about the change once the container lock is released.
func (d *ApplicationDescriptor) refreshLocked(launchable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registration == nil {
		return
	}
	fire, err := d.registration.UpdateDeferred(d.propertiesLocked(launchable))
	if err != nil {
		d.container.logger.Debug("Descriptor properties not refreshed", "application", d.spec.ID, "error", err)
		return
	}
	d.container.pendingServiceEvents = append(d.container.pendingServiceEvents, fire)
}

func (d *ApplicationDescriptor) propertiesLocked(launchable bool) registry.Properties {
	return registry.Properties{
		registry.PropServicePID:    d.spec.ID,
		PropApplicationName:        d.spec.Name,
		PropApplicationIcon:        d.spec.Icon,
		PropApplicationVisible:     d.spec.Visible,
		PropApplicationThread:      d.spec.Thread.String(),
		PropApplicationCardinality: d.spec.Cardinality.String(),
		PropApplicationDefault:     d.spec.Default,
		PropApplicationLocked:      d.locked,
		PropApplicationLaunchable:  launchable && !d.locked,
	}
}

// Properties returns the descriptor's currently published properties, or
// nil when it is not registered.
func (d *ApplicationDescriptor) Properties() registry.Properties {
	d.mu.Lock()
	reg := d.registration
	d.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Reference().Properties()
}

// registerLocked publishes the descriptor; the container lock must be held.
func (d *ApplicationDescriptor) registerLocked(services *registry.Registry, launchable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registration != nil {
		return nil
	}
	reg, fire, err := services.RegisterDeferred([]string{ServiceApplicationDescriptor}, d, d.propertiesLocked(launchable))
	if err != nil {
		return err
	}
	d.registration = reg
	d.container.pendingServiceEvents = append(d.container.pendingServiceEvents, fire)
	return nil
}

func (d *ApplicationDescriptor) unregister() {
	d.mu.Lock()
	reg := d.registration
	d.registration = nil
	d.mu.Unlock()
	if reg != nil {
		_ = reg.Unregister()
	}
}

// createApplication instantiates the application from its extension.
func (d *ApplicationDescriptor) createApplication() (Application, error) {
	ext := d.container.appExtension(d.spec.ID)
	if ext == nil {
		return nil, newAppError(CodeInternal, "application extension %s is no longer available", d.spec.ID)
	}
	if len(ext.Elements) == 0 {
		return nil, &ApplicationError{Code: CodeInternal, Message: d.spec.ID, Err: ErrNotRunnable}
	}
	obj, err := ext.Elements[0].CreateExecutableExtension("run")
	if err != nil {
		return nil, &ApplicationError{Code: CodeInternal, Message: "create " + d.spec.ID, Err: err}
	}
	app, ok := obj.(Application)
	if !ok {
		return nil, &ApplicationError{Code: CodeInternal, Message: fmt.Sprintf("%s: %T", d.spec.ID, obj), Err: ErrNotRunnable}
	}
	return app, nil
}

func (d *ApplicationDescriptor) String() string {
	return d.spec.ID
}
