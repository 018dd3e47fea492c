package blueberry

import (
	"context"
	"sync"
)

// MainApplicationLauncher is handed to the main-thread launcher when the
// default application could not be found at container start. Running it
// retries the default application without deferring errors, so by then the
// error application is launched if the application is still missing; the
// resulting main-thread instance is then run in place.
type MainApplicationLauncher struct {
	container *ApplicationContainer

	mu       sync.Mutex
	pending  ApplicationRunnable
	args     any
	current  ApplicationRunnable
	stopping bool
}

// NewMainApplicationLauncher creates a launcher trampoline for c.
func NewMainApplicationLauncher(c *ApplicationContainer) *MainApplicationLauncher {
	return &MainApplicationLauncher{container: c}
}

// Run starts the default application and runs whatever it launched through
// this trampoline on the calling goroutine. The trampoline is spent
// afterwards: later default launches go to the real launcher.
func (l *MainApplicationLauncher) Run(ctx context.Context, args any) (any, error) {
	err := l.container.StartDefaultApp(ctx, false)
	l.container.releaseMissingAppLauncher(l)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	runnable, runArgs := l.pending, l.args
	l.pending, l.args = nil, nil
	l.current = runnable
	stopping := l.stopping
	l.mu.Unlock()
	if runnable == nil {
		return nil, &ApplicationError{Code: CodeInternal, Message: "No application id has been found.", Err: ErrNoApplicationID}
	}
	if stopping {
		runnable.Stop()
	}
	if runArgs == nil {
		runArgs = args
	}
	return runnable.Run(ctx, runArgs)
}

// Launch records the runnable the default application produced.
func (l *MainApplicationLauncher) Launch(runnable ApplicationRunnable, args any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = runnable
	l.args = args
	return nil
}

// Stop stops the runnable this trampoline is running, if any.
func (l *MainApplicationLauncher) Stop() {
	l.mu.Lock()
	l.stopping = true
	runnable := l.current
	if runnable == nil {
		runnable = l.pending
	}
	l.mu.Unlock()
	if runnable != nil {
		runnable.Stop()
	}
}

// defaultAppWaiter lets a default any-thread application occupy the main
// thread: the application runs on its own goroutine while the main thread
// waits for its result.
type defaultAppWaiter struct {
	h *ApplicationHandle
}

func newDefaultAppWaiter(h *ApplicationHandle) *defaultAppWaiter {
	return &defaultAppWaiter{h: h}
}

type runOutcome struct {
	value any
	err   error
}

func (w *defaultAppWaiter) Run(ctx context.Context, args any) (any, error) {
	done := make(chan runOutcome, 1)
	go func() {
		v, err := w.h.Run(ctx, args)
		done <- runOutcome{value: v, err: err}
	}()
	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		w.h.Stop()
		o := <-done
		return o.value, o.err
	}
}

func (w *defaultAppWaiter) Stop() { w.h.Stop() }

func (w *defaultAppWaiter) launchArguments() any { return w.h.launchArguments() }
