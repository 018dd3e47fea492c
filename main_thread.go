package blueberry

import (
	"context"
	"sync"
)

type launchRequest struct {
	runnable ApplicationRunnable
	args     any
}

// MainThreadLauncher is the ApplicationLauncher for the process main goroutine.
// Launch queues at most one runnable; Start, called from the main
// goroutine, waits for it and runs it in place.
type MainThreadLauncher struct {
	logger Logger

	mu      sync.Mutex
	args    any
	busy    bool
	current ApplicationRunnable
	pending chan launchRequest
}

// NewMainThreadLauncher creates an idle main-thread launcher.
func NewMainThreadLauncher(logger Logger) *MainThreadLauncher {
	return &MainThreadLauncher{
		logger:  loggerOrNop(logger),
		pending: make(chan launchRequest, 1),
	}
}

// Launch queues runnable for the main goroutine. It fails with
// ErrMainThreadBusy while another runnable is queued or running.
func (m *MainThreadLauncher) Launch(runnable ApplicationRunnable, args any) error {
	if runnable == nil {
		return ErrNotRunnable
	}
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrMainThreadBusy
	}
	m.busy = true
	m.mu.Unlock()

	m.pending <- launchRequest{runnable: runnable, args: args}
	return nil
}

// SetArguments sets the arguments passed to runnables launched without any,
// typically the command line left over after the framework's own flags.
func (m *MainThreadLauncher) SetArguments(args any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.args = args
}

// Start blocks until a runnable is launched and runs it on the calling
// goroutine, returning its result. Cancelling ctx while waiting returns
// ctx.Err(); cancelling it while running stops the runnable.
func (m *MainThreadLauncher) Start(ctx context.Context) (any, error) {
	var req launchRequest
	select {
	case req = <-m.pending:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.current = req.runnable
	if req.args == nil {
		req.args = m.args
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.current = nil
		m.busy = false
		m.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, req.runnable.Stop)
	defer stop()

	m.logger.Debug("Running application on the main thread")
	return req.runnable.Run(ctx, req.args)
}

// Busy reports whether a runnable is queued or running.
func (m *MainThreadLauncher) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// Shutdown stops the runnable currently on the main thread, if any.
func (m *MainThreadLauncher) Shutdown() {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}
