package blueberry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/blueberry/extension"
	"github.com/GoCodeAlone/blueberry/registry"
	"github.com/google/uuid"
)

// FrameworkOption configures a Framework.
type FrameworkOption func(*Framework)

// WithContainerOptions passes options through to the application container.
func WithContainerOptions(opts ...ContainerOption) FrameworkOption {
	return func(f *Framework) { f.containerOpts = append(f.containerOpts, opts...) }
}

// WithFactory registers the factory for an application or product provider class.
func WithFactory(class string, factory extension.Factory) FrameworkOption {
	return func(f *Framework) { f.factories[class] = factory }
}

// WithExtensions contributes extensions when the framework starts.
func WithExtensions(exts ...*extension.Extension) FrameworkOption {
	return func(f *Framework) { f.initialExts = append(f.initialExts, exts...) }
}

// WithoutMainThreadLauncher keeps Start from registering the main-thread
// launcher; call RegisterMainThread once the main goroutine is ready.
func WithoutMainThreadLauncher() FrameworkOption {
	return func(f *Framework) { f.registerMain = false }
}

// Framework wires the service registry, extension registry, event bus,
// manifest watcher and application container together, and owns the
// main-thread launcher.
type Framework struct {
	cfg        *Config
	logger     Logger
	sessionID  string
	services   *registry.Registry
	extensions *extension.Registry
	bus        *EventBus
	container  *ApplicationContainer
	mainThread *MainThreadLauncher

	containerOpts []ContainerOption
	factories     map[string]extension.Factory
	initialExts   []*extension.Extension
	registerMain  bool

	mu          sync.Mutex
	started     bool
	watcher     *extension.Watcher
	launcherReg *registry.Registration
}

// NewFramework creates a framework for cfg.
func NewFramework(cfg *Config, logger Logger, opts ...FrameworkOption) (*Framework, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wait, _ := cfg.applicationWait()
	logger = loggerOrNop(logger)

	f := &Framework{
		cfg:          cfg,
		logger:       logger,
		sessionID:    uuid.NewString(),
		services:     registry.NewRegistry(),
		extensions:   extension.NewRegistry(),
		bus:          NewEventBus(logger),
		mainThread:   NewMainThreadLauncher(logger),
		factories:    make(map[string]extension.Factory),
		registerMain: true,
	}
	for _, opt := range opts {
		opt(f)
	}

	containerOpts := []ContainerOption{
		WithLogger(logger),
		WithSubject(f.bus),
		WithProperties(cfg.ContainerProperties()),
		WithApplicationWait(wait),
	}
	f.container = NewApplicationContainer(f.services, f.extensions, append(containerOpts, f.containerOpts...)...)
	return f, nil
}

func (f *Framework) Services() *registry.Registry     { return f.services }
func (f *Framework) Extensions() *extension.Registry  { return f.extensions }
func (f *Framework) Container() *ApplicationContainer { return f.container }
func (f *Framework) MainThread() *MainThreadLauncher  { return f.mainThread }
func (f *Framework) Events() Subject                  { return f.bus }

// Start declares the built-in extension points and the error application,
// loads the extension directory, starts the container and registers the
// main-thread launcher.
func (f *Framework) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	f.extensions.AddExtensionPoint(PointApplications)
	f.extensions.AddExtensionPoint(PointProducts)
	if err := RegisterErrorApplication(f.extensions); err != nil {
		return err
	}
	for class, factory := range f.factories {
		f.extensions.RegisterFactory(class, factory)
	}
	for _, ext := range f.initialExts {
		if err := f.extensions.AddExtension(ext); err != nil && !errors.Is(err, extension.ErrDuplicateExtension) {
			return fmt.Errorf("contribute extension %s: %w", ext.UniqueID, err)
		}
	}

	if f.cfg.ExtensionDir != "" {
		opts := []extension.WatcherOption{extension.WithLogger(f.logger)}
		if f.cfg.RescanSchedule != "" {
			opts = append(opts, extension.WithRescanSchedule(f.cfg.RescanSchedule))
		}
		w := extension.NewWatcher(f.cfg.ExtensionDir, f.extensions, opts...)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch extension dir: %w", err)
		}
		f.watcher = w
	}

	f.notify(ctx, EventTypeFrameworkStarting)
	if err := f.container.Start(ctx); err != nil {
		f.stopWatcherLocked()
		return fmt.Errorf("start application container: %w", err)
	}
	f.started = true

	if f.registerMain {
		if err := f.registerMainThreadLocked(); err != nil {
			return err
		}
	}
	f.notify(ctx, EventTypeFrameworkStarted)
	f.logger.Info("Framework started", "session", f.sessionID)
	return nil
}

// RegisterMainThread publishes the main-thread launcher. A default
// application parked while no launcher was available is handed to it.
func (f *Framework) RegisterMainThread() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerMainThreadLocked()
}

func (f *Framework) registerMainThreadLocked() error {
	if f.launcherReg != nil {
		return nil
	}
	reg, err := f.services.Register([]string{ServiceApplicationLauncher}, f.mainThread, registry.Properties{
		registry.PropServicePID: "blueberry.main-thread",
	})
	if err != nil {
		return fmt.Errorf("register main-thread launcher: %w", err)
	}
	f.launcherReg = reg
	return nil
}

// Run runs the application launched onto the main thread on the calling
// goroutine and returns its exit value. It blocks until one is launched.
func (f *Framework) Run(ctx context.Context) (any, error) {
	return f.mainThread.Start(ctx)
}

// Stop announces the framework shutdown, which stops every application,
// and then tears the container and watcher down.
func (f *Framework) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false

	f.notify(ctx, EventTypeFrameworkStopping)
	f.mainThread.Shutdown()

	var errs []error
	if err := f.container.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if f.launcherReg != nil {
		_ = f.launcherReg.Unregister()
		f.launcherReg = nil
	}
	if err := f.stopWatcherLocked(); err != nil {
		errs = append(errs, err)
	}
	f.notify(ctx, EventTypeFrameworkStopped)
	f.logger.Info("Framework stopped", "session", f.sessionID)
	return errors.Join(errs...)
}

func (f *Framework) stopWatcherLocked() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Stop()
	f.watcher = nil
	return err
}

func (f *Framework) notify(ctx context.Context, eventType string) {
	event := NewCloudEvent(eventType, "blueberry.framework", map[string]any{"session": f.sessionID}, map[string]any{
		ExtensionPluginID: 0,
	})
	if err := f.bus.NotifyObservers(ctx, event); err != nil {
		f.logger.Warn("Framework event observers reported errors", "event", eventType, "error", err)
	}
}
