package blueberry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/blueberry/extension"
	"github.com/GoCodeAlone/blueberry/registry"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// blockingApp runs until Stop is called and then returns result.
type blockingApp struct {
	result any

	started     chan struct{}
	startedOnce sync.Once
	stopCh      chan struct{}
	stopOnce    sync.Once
	stops       atomic.Int32

	mu     sync.Mutex
	appCtx ApplicationContext
}

func newBlockingApp(result any) *blockingApp {
	return &blockingApp{
		result:  result,
		started: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

func (a *blockingApp) Start(_ context.Context, appCtx ApplicationContext) (any, error) {
	a.mu.Lock()
	a.appCtx = appCtx
	a.mu.Unlock()
	a.startedOnce.Do(func() { close(a.started) })
	<-a.stopCh
	return a.result, nil
}

func (a *blockingApp) Stop() {
	a.stops.Add(1)
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *blockingApp) context() ApplicationContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appCtx
}

// funcApp adapts functions to Application.
type funcApp struct {
	start func(ctx context.Context, appCtx ApplicationContext) (any, error)
	stop  func()
}

func (f *funcApp) Start(ctx context.Context, appCtx ApplicationContext) (any, error) {
	return f.start(ctx, appCtx)
}

func (f *funcApp) Stop() {
	if f.stop != nil {
		f.stop()
	}
}

func returning(value any, err error) extension.Factory {
	return func() (any, error) {
		return &funcApp{start: func(context.Context, ApplicationContext) (any, error) { return value, err }}, nil
	}
}

func always(app Application) extension.Factory {
	return func() (any, error) { return app, nil }
}

// blockingFactory hands out a fresh blockingApp per instance and remembers them.
type blockingFactory struct {
	mu   sync.Mutex
	apps []*blockingApp
}

func (f *blockingFactory) create() (any, error) {
	app := newBlockingApp(nil)
	f.mu.Lock()
	f.apps = append(f.apps, app)
	f.mu.Unlock()
	return app, nil
}

func (f *blockingFactory) all() []*blockingApp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*blockingApp(nil), f.apps...)
}

// goLauncher stands in for the main thread: each runnable runs on a new goroutine.
type goLauncher struct {
	results  chan runOutcome
	launched atomic.Int32
}

func newGoLauncher() *goLauncher {
	return &goLauncher{results: make(chan runOutcome, 32)}
}

func (l *goLauncher) Launch(r ApplicationRunnable, args any) error {
	l.launched.Add(1)
	go func() {
		v, err := r.Run(context.Background(), args)
		l.results <- runOutcome{value: v, err: err}
	}()
	return nil
}

func (l *goLauncher) next(t *testing.T) runOutcome {
	t.Helper()
	select {
	case o := <-l.results:
		return o
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a launched runnable to finish")
		return runOutcome{}
	}
}

type testEnv struct {
	t          *testing.T
	services   *registry.Registry
	extensions *extension.Registry
	bus        *EventBus
	container  *ApplicationContainer
}

// newTestEnv builds a container that does not launch a default application
// unless opts say otherwise.
func newTestEnv(t *testing.T, opts ...ContainerOption) *testEnv {
	t.Helper()
	env := &testEnv{
		t:          t,
		services:   registry.NewRegistry(),
		extensions: extension.NewRegistry(),
	}
	env.bus = NewEventBus(&testLogger{t: t})
	env.extensions.AddExtensionPoint(PointApplications)
	env.extensions.AddExtensionPoint(PointProducts)
	require.NoError(t, RegisterErrorApplication(env.extensions))

	base := []ContainerOption{
		WithLogger(&testLogger{t: t}),
		WithSubject(env.bus),
		WithProperties(map[string]string{PropLaunchDefault: "false"}),
	}
	env.container = NewApplicationContainer(env.services, env.extensions, append(base, opts...)...)
	return env
}

func (e *testEnv) declare(id string, attrs map[string]string, factory extension.Factory) {
	e.t.Helper()
	class := id + ".class"
	e.extensions.RegisterFactory(class, factory)
	require.NoError(e.t, e.extensions.AddExtension(&extension.Extension{
		UniqueID: id,
		Label:    id,
		PointID:  PointApplications,
		Elements: []*extension.ConfigurationElement{{
			Name:       "application",
			Attributes: attrs,
			Children: []*extension.ConfigurationElement{{
				Name:       "run",
				Attributes: map[string]string{"class": class},
			}},
		}},
	}))
}

func (e *testEnv) start() {
	e.t.Helper()
	require.NoError(e.t, e.container.Start(context.Background()))
	e.t.Cleanup(func() { _ = e.container.Stop(context.Background()) })
}

func (e *testEnv) registerLauncher(l ApplicationLauncher) *registry.Registration {
	e.t.Helper()
	reg, err := e.services.Register([]string{ServiceApplicationLauncher}, l, nil)
	require.NoError(e.t, err)
	return reg
}

func (e *testEnv) launch(id string, args map[string]any) (*ApplicationHandle, error) {
	e.t.Helper()
	d := e.container.GetAppDescriptor(id)
	require.NotNil(e.t, d, "descriptor %s", id)
	return d.Launch(context.Background(), args)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}

func anyThread(cardinality string) map[string]string {
	return map[string]string{"thread": "any", "cardinality": cardinality}
}

func mainThread(cardinality string) map[string]string {
	return map[string]string{"thread": "main", "cardinality": cardinality}
}
