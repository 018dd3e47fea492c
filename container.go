package blueberry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/blueberry/extension"
	"github.com/GoCodeAlone/blueberry/registry"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Framework properties the container reads.
const (
	PropApplication       = "blueberry.application"
	PropProduct           = "blueberry.product"
	PropLaunchDefault     = "blueberry.application.launchDefault"
	ErrorApplicationID    = "org.blueberry.core.runtime.app.error"
	errorApplicationClass = "blueberry.ErrorApplication"
)

// stoppingFilter selects the instances a shutdown sweep still has to destroy.
const stoppingFilter = "(!(application.state=STOPPING))"

// ContainerOption configures an ApplicationContainer.
type ContainerOption func(*ApplicationContainer)

// WithLogger sets the container's logger.
func WithLogger(l Logger) ContainerOption {
	return func(c *ApplicationContainer) { c.logger = loggerOrNop(l) }
}

// WithMetrics sets the metrics sink; see the metrics package.
func WithMetrics(m Metrics) ContainerOption {
	return func(c *ApplicationContainer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the tracer launches and runs are recorded with.
func WithTracer(t trace.Tracer) ContainerOption {
	return func(c *ApplicationContainer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithSubject sets the subject the container publishes events on and
// listens to for framework shutdown.
func WithSubject(s Subject) ContainerOption {
	return func(c *ApplicationContainer) { c.subject = s }
}

// WithProperties sets the framework properties (blueberry.application,
// blueberry.product, blueberry.application.launchDefault).
func WithProperties(props map[string]string) ContainerOption {
	return func(c *ApplicationContainer) {
		for k, v := range props {
			c.props[k] = v
		}
	}
}

// WithApplicationWait bounds how long ApplicationHandle.Application waits.
func WithApplicationWait(d time.Duration) ContainerOption {
	return func(c *ApplicationContainer) { c.appWait = d }
}

// ApplicationContainer manages application descriptors and the instances
// launched from them: it publishes a descriptor for every application
// extension, enforces cardinality and thread admission, and starts the
// default application.
type ApplicationContainer struct {
	services   *registry.Registry
	extensions *extension.Registry
	props      map[string]string
	logger     Logger
	metrics    Metrics
	tracer     trace.Tracer
	subject    Subject
	appWait    time.Duration

	// mu guards the descriptor cache and the admission slots.
	mu                    sync.Mutex
	apps                  map[string]*ApplicationDescriptor
	activeHandles         map[*ApplicationHandle]struct{}
	activeGlobalSingleton *ApplicationHandle
	activeScoped          map[string]*ApplicationHandle
	activeLimited         map[string][]*ApplicationHandle
	activeMain            *ApplicationHandle
	// pendingServiceEvents holds descriptor notifications queued under mu.
	pendingServiceEvents []func()

	// launchMu guards the main-thread launcher hand-off.
	launchMu                sync.Mutex
	launcher                ApplicationLauncher
	launcherTracker         *registry.Tracker
	defaultMainThreadHandle ApplicationRunnable
	missingApp              bool
	missingAppLauncher      *MainApplicationLauncher

	defaultMu     sync.Mutex
	defaultAppID  string
	branding      Branding
	missingReport bool

	runMu     sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewApplicationContainer creates a container over the given registries.
func NewApplicationContainer(services *registry.Registry, extensions *extension.Registry, opts ...ContainerOption) *ApplicationContainer {
	c := &ApplicationContainer{
		services:      services,
		extensions:    extensions,
		props:         make(map[string]string),
		logger:        nopLogger{},
		metrics:       nopMetrics{},
		tracer:        noop.NewTracerProvider().Tracer("blueberry"),
		apps:          make(map[string]*ApplicationDescriptor),
		activeHandles: make(map[*ApplicationHandle]struct{}),
		activeScoped:  make(map[string]*ApplicationHandle),
		activeLimited: make(map[string][]*ApplicationHandle),
		runCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Services returns the service registry the container publishes in.
func (c *ApplicationContainer) Services() *registry.Registry { return c.services }

// Extensions returns the extension registry the container reads.
func (c *ApplicationContainer) Extensions() *extension.Registry { return c.extensions }

// Start begins tracking launchers and extensions, publishes descriptors for
// all known applications, and launches the default application unless
// blueberry.application.launchDefault is "false". Failure to launch the
// default application is logged, not returned.
func (c *ApplicationContainer) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.started {
		c.runMu.Unlock()
		return nil
	}
	c.started = true
	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	c.runMu.Unlock()

	c.launchMu.Lock()
	c.launcherTracker = registry.NewTracker(c.services, ServiceApplicationLauncher, c)
	tracker := c.launcherTracker
	c.launchMu.Unlock()
	if err := tracker.Open(); err != nil {
		return fmt.Errorf("track application launchers: %w", err)
	}

	c.extensions.AddListener(c, PointApplications)
	if c.subject != nil {
		if err := c.subject.RegisterObserver(c, EventTypeFrameworkStopping); err != nil {
			return fmt.Errorf("observe framework events: %w", err)
		}
	}

	c.registerAppDescriptors()

	if v := c.props[PropLaunchDefault]; v == "" || strings.EqualFold(v, "true") {
		if err := c.StartDefaultApp(ctx, true); err != nil {
			c.logger.Error("Unable to launch the default application", "error", err)
		}
	}
	c.logger.Info("Application container started", "applications", len(c.AppDescriptors()))
	return nil
}

// Stop destroys every running instance, withdraws all descriptors, and
// forgets the cached default application and branding. Errors from
// individual instances are logged.
func (c *ApplicationContainer) Stop(ctx context.Context) error {
	c.runMu.Lock()
	if !c.started {
		c.runMu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.runCancel
	c.runMu.Unlock()

	_ = c.stopAllApps()

	if c.subject != nil {
		_ = c.subject.UnregisterObserver(c)
	}
	c.extensions.RemoveListener(c)

	c.mu.Lock()
	apps := c.apps
	c.apps = make(map[string]*ApplicationDescriptor)
	c.mu.Unlock()
	for _, d := range apps {
		d.unregister()
	}
	c.metrics.SetDescriptors(0)

	c.defaultMu.Lock()
	c.defaultAppID = ""
	c.branding = nil
	c.missingReport = false
	c.defaultMu.Unlock()

	c.launchMu.Lock()
	tracker := c.launcherTracker
	c.launcherTracker = nil
	c.defaultMainThreadHandle = nil
	c.missingApp = false
	c.missingAppLauncher = nil
	c.launchMu.Unlock()
	if tracker != nil {
		tracker.Close()
	}

	if cancel != nil {
		cancel()
	}
	c.logger.Info("Application container stopped")
	return nil
}

// AppDescriptors returns the published descriptors ordered by id.
func (c *ApplicationContainer) AppDescriptors() []*ApplicationDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ApplicationDescriptor, 0, len(c.apps))
	for _, d := range c.apps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApplicationID() < out[j].ApplicationID() })
	return out
}

// GetAppDescriptor returns the descriptor for applicationID, creating it from
// the applications extension point when it is not cached yet. It returns nil
// when no such application is declared.
func (c *ApplicationContainer) GetAppDescriptor(applicationID string) *ApplicationDescriptor {
	c.mu.Lock()
	d := c.apps[applicationID]
	c.mu.Unlock()
	if d != nil {
		return d
	}
	ext := c.appExtension(applicationID)
	if ext == nil {
		return nil
	}
	d, err := c.CreateAppDescriptor(ext)
	if err != nil {
		c.logger.Error("Unable to create application descriptor", "application", applicationID, "error", err)
		return nil
	}
	return d
}

// Handles returns the registered application instances ordered by instance id.
func (c *ApplicationContainer) Handles() []*ApplicationHandle {
	refs, err := c.services.GetServiceReferences(ServiceApplicationHandle, "")
	if err != nil {
		return nil
	}
	out := make([]*ApplicationHandle, 0, len(refs))
	for _, ref := range refs {
		if h, ok := c.services.GetService(ref).(*ApplicationHandle); ok {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID() < out[j].InstanceID() })
	return out
}

// Handle returns the registered instance with the given id, or nil.
func (c *ApplicationContainer) Handle(instanceID string) *ApplicationHandle {
	for _, h := range c.Handles() {
		if h.InstanceID() == instanceID {
			return h
		}
	}
	return nil
}

func (c *ApplicationContainer) appExtension(id string) *extension.Extension {
	return c.extensions.Extension(PointApplications, id)
}

func (c *ApplicationContainer) registerAppDescriptors() {
	for _, ext := range c.extensions.Extensions(PointApplications) {
		if _, err := c.CreateAppDescriptor(ext); err != nil {
			c.logger.Error("Unable to create application descriptor", "application", ext.UniqueID, "error", err)
		}
	}
}

// CreateAppDescriptor builds and publishes the descriptor for an application
// extension. An already published descriptor is returned unchanged.
//
// The first configuration element is read for its thread ("main" or
// "any"), cardinality ("singleton-global", "singleton-scoped", "*" or a
// positive count) and visible attributes; the defaults are main thread,
// singleton-global and visible.
func (c *ApplicationContainer) CreateAppDescriptor(ext *extension.Extension) (*ApplicationDescriptor, error) {
	if ext == nil || ext.UniqueID == "" {
		return nil, newAppError(CodeInvalidArgument, "application extension must have an id")
	}
	defaultID := c.DefaultAppID()

	spec := DescriptorSpec{
		ID:          ext.UniqueID,
		Name:        ext.Label,
		Thread:      MainThread,
		Cardinality: Cardinality{Kind: SingletonGlobal},
		Visible:     true,
		Default:     ext.UniqueID == defaultID,
		Contributor: ext.Contributor,
	}
	if len(ext.Elements) > 0 {
		el := ext.Elements[0]
		if el.Attribute("thread") == "any" {
			spec.Thread = AnyThread
		}
		if v := el.Attribute("cardinality"); v != "" {
			card, ok := ParseCardinality(v)
			if !ok {
				c.logger.Warn("Unrecognized application cardinality, using singleton-global", "application", ext.UniqueID, "cardinality", v)
			}
			spec.Cardinality = card
		}
		if v := el.Attribute("visible"); v != "" && v != "true" {
			spec.Visible = false
		}
		spec.Icon = el.Attribute("icon")
	}

	c.mu.Lock()
	if d, ok := c.apps[spec.ID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	d := newApplicationDescriptor(spec, c)
	if err := d.registerLocked(c.services, c.isLockedLocked(d) == NotLocked); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("register descriptor %s: %w", spec.ID, err)
	}
	c.apps[spec.ID] = d
	count := len(c.apps)
	c.mu.Unlock()
	c.flushServiceEvents()

	c.metrics.SetDescriptors(count)
	c.logger.Debug("Registered application descriptor", "application", spec.ID, "thread", spec.Thread.String(), "cardinality", spec.Cardinality.String())
	c.emit(context.Background(), EventTypeDescriptorRegistered, map[string]any{"application": spec.ID})
	return d, nil
}

// RemoveAppDescriptor withdraws and forgets a descriptor. Running instances
// are left alone.
func (c *ApplicationContainer) RemoveAppDescriptor(applicationID string) *ApplicationDescriptor {
	c.mu.Lock()
	d, ok := c.apps[applicationID]
	delete(c.apps, applicationID)
	count := len(c.apps)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	d.unregister()
	c.metrics.SetDescriptors(count)
	c.logger.Debug("Removed application descriptor", "application", applicationID)
	c.emit(context.Background(), EventTypeDescriptorRemoved, map[string]any{"application": applicationID})
	return d
}

// Added implements extension.Listener.
func (c *ApplicationContainer) Added(exts []*extension.Extension) {
	for _, ext := range exts {
		if _, err := c.CreateAppDescriptor(ext); err != nil {
			c.logger.Error("Unable to create application descriptor", "application", ext.UniqueID, "error", err)
		}
	}
}

// Removed implements extension.Listener.
func (c *ApplicationContainer) Removed(exts []*extension.Extension) {
	for _, ext := range exts {
		c.RemoveAppDescriptor(ext.UniqueID)
	}
}

// StartDefaultApp launches the default application. When no default
// application id is known, or it names an unknown application, the error
// application is launched instead with a message saying so. With delayError
// and no launcher available yet, the error is deferred until a launcher
// shows up.
func (c *ApplicationContainer) StartDefaultApp(ctx context.Context, delayError bool) error {
	appID := c.DefaultAppID()
	var desc *ApplicationDescriptor
	args := map[string]any{}

	if appID == "" {
		if delayError && c.deferMissingApp() {
			return nil
		}
		desc = c.GetAppDescriptor(ErrorApplicationID)
		args[ArgErrorException] = "No application id has been found."
	} else {
		desc = c.GetAppDescriptor(appID)
		if desc == nil {
			if delayError && c.deferMissingApp() {
				return nil
			}
			desc = c.GetAppDescriptor(ErrorApplicationID)
			args[ArgErrorException] = fmt.Sprintf("Application %q could not be found in the registry. The applications available are: %s.", appID, c.AvailableAppsMessage())
		}
	}
	if desc == nil {
		return &ApplicationError{Code: CodeInternal, Message: "No application id has been found.", Err: ErrNoApplicationID}
	}
	args[ArgDefault] = true
	_, err := desc.Launch(ctx, args)
	return err
}

// deferMissingApp records that the default application could not be found
// while no launcher is available. It reports false once a launcher exists,
// in which case the caller reports the error now.
func (c *ApplicationContainer) deferMissingApp() bool {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()
	if c.launcher != nil {
		return false
	}
	c.missingApp = true
	return true
}

// AvailableAppsMessage lists the declared application ids, or "<NONE>".
func (c *ApplicationContainer) AvailableAppsMessage() string {
	exts := c.extensions.Extensions(PointApplications)
	if len(exts) == 0 {
		return "<NONE>"
	}
	ids := make([]string, 0, len(exts))
	for _, ext := range exts {
		ids = append(ids, ext.UniqueID)
	}
	return strings.Join(ids, ", ")
}

// DefaultAppID returns the id of the default application: the
// blueberry.application property, or else the application named by the
// product branding. A resolved id is cached until Stop.
func (c *ApplicationContainer) DefaultAppID() string {
	c.defaultMu.Lock()
	id := c.defaultAppID
	c.defaultMu.Unlock()
	if id != "" {
		return id
	}

	id = c.props[PropApplication]
	if id == "" {
		if b := c.Branding(); b != nil {
			id = b.Application()
		}
	}
	if id != "" {
		c.defaultMu.Lock()
		c.defaultAppID = id
		c.defaultMu.Unlock()
	}
	return id
}

// launch hands an admitted, registered instance to the goroutine that will
// run it. Main-thread and default instances go to the main-thread launcher;
// if none is available a default instance is parked until one appears.
func (c *ApplicationContainer) launch(ctx context.Context, h *ApplicationHandle) error {
	d := h.Descriptor()
	if d.Thread() == AnyThread && !h.IsDefault() {
		runCtx := c.runContext()
		go func() {
			if _, err := h.Run(runCtx, nil); err != nil {
				c.logger.Debug("Application finished with error", "instance", h.InstanceID(), "error", err)
			}
		}()
		return nil
	}

	var runnable ApplicationRunnable = h
	if d.Thread() == AnyThread {
		runnable = newDefaultAppWaiter(h)
	}

	c.launchMu.Lock()
	launcher := c.launcher
	missing := c.missingAppLauncher
	if launcher == nil {
		if !h.IsDefault() {
			c.launchMu.Unlock()
			return newAppError(CodeInternal, "the main thread is not available to launch %s", d.ApplicationID())
		}
		c.defaultMainThreadHandle = runnable
		c.launchMu.Unlock()
		c.logger.Info("Default application waits for a main-thread launcher", "instance", h.InstanceID())
		return nil
	}
	c.launchMu.Unlock()

	if h.IsDefault() && missing != nil {
		return missing.Launch(runnable, h.launchArguments())
	}
	return launcher.Launch(runnable, h.launchArguments())
}

func (c *ApplicationContainer) releaseMissingAppLauncher(l *MainApplicationLauncher) {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()
	if c.missingAppLauncher == l {
		c.missingAppLauncher = nil
	}
}

func (c *ApplicationContainer) runContext() context.Context {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runCtx
}

// AddingService implements registry.Customizer for launcher services. The
// first launcher receives any default application parked while none was
// available.
func (c *ApplicationContainer) AddingService(ref *registry.ServiceReference) any {
	launcher, ok := c.services.GetService(ref).(ApplicationLauncher)
	if !ok {
		return nil
	}

	c.launchMu.Lock()
	if c.launcher == nil {
		c.launcher = launcher
	}
	runnable := c.defaultMainThreadHandle
	c.defaultMainThreadHandle = nil
	if runnable == nil && c.missingApp {
		c.missingAppLauncher = NewMainApplicationLauncher(c)
		runnable = c.missingAppLauncher
		c.missingApp = false
	}
	c.launchMu.Unlock()

	if runnable != nil {
		var args any
		if h, ok := runnable.(interface{ launchArguments() any }); ok {
			args = h.launchArguments()
		}
		if err := launcher.Launch(runnable, args); err != nil {
			c.logger.Error("Unable to launch the default application", "error", err)
		}
	}
	return launcher
}

// ModifiedService implements registry.Customizer.
func (c *ApplicationContainer) ModifiedService(*registry.ServiceReference, any) {}

// RemovedService implements registry.Customizer.
func (c *ApplicationContainer) RemovedService(_ *registry.ServiceReference, service any) {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()
	if l, ok := service.(ApplicationLauncher); ok && c.launcher == l {
		c.launcher = nil
	}
}

// ObserverID implements Observer.
func (c *ApplicationContainer) ObserverID() string { return "blueberry.application-container" }

// OnEvent stops every running application when the framework itself (plugin
// id 0) is stopping.
func (c *ApplicationContainer) OnEvent(_ context.Context, event cloudevents.Event) error {
	if event.Type() != EventTypeFrameworkStopping {
		return nil
	}
	if id, ok := PluginIDOf(event); ok && id != 0 {
		return nil
	}
	return c.stopAllApps()
}

// stopAllApps destroys every instance that is not already stopping.
func (c *ApplicationContainer) stopAllApps() error {
	refs, err := c.services.GetServiceReferences(ServiceApplicationHandle, stoppingFilter)
	if err != nil {
		c.logger.Error("Unable to list running applications", "error", err)
		return err
	}
	var errs []error
	for _, ref := range refs {
		h, ok := c.services.GetService(ref).(*ApplicationHandle)
		if !ok {
			continue
		}
		if err := h.Destroy(); err != nil {
			c.logger.Warn("Error stopping application", "instance", h.InstanceID(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.InstanceID(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *ApplicationContainer) emit(ctx context.Context, eventType string, data map[string]any) {
	if c.subject == nil {
		return
	}
	event := NewCloudEvent(eventType, "blueberry.container", data, nil)
	if err := c.subject.NotifyObservers(ctx, event); err != nil {
		c.logger.Debug("Failed to notify observers", "event", eventType, "error", err)
	}
}
