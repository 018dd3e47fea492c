package blueberry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnableFunc is an ApplicationRunnable over plain functions.
type runnableFunc struct {
	run  func(ctx context.Context, args any) (any, error)
	stop func()
}

func (r *runnableFunc) Run(ctx context.Context, args any) (any, error) { return r.run(ctx, args) }

func (r *runnableFunc) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

func TestMainThreadLauncher_RunsLaunchedRunnable(t *testing.T) {
	m := NewMainThreadLauncher(&testLogger{t: t})
	m.SetArguments([]string{"from", "command", "line"})

	require.NoError(t, m.Launch(&runnableFunc{run: func(_ context.Context, args any) (any, error) {
		return args, nil
	}}, nil))
	assert.True(t, m.Busy())
	assert.ErrorIs(t, m.Launch(&runnableFunc{}, nil), ErrMainThreadBusy)

	value, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"from", "command", "line"}, value)
	assert.False(t, m.Busy())

	require.NoError(t, m.Launch(&runnableFunc{run: func(_ context.Context, args any) (any, error) {
		return args, nil
	}}, "explicit"))
	value, err = m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "explicit", value)
}

func TestMainThreadLauncher_NilRunnable(t *testing.T) {
	m := NewMainThreadLauncher(nil)
	assert.ErrorIs(t, m.Launch(nil, nil), ErrNotRunnable)
	assert.False(t, m.Busy())
}

func TestMainThreadLauncher_StartHonoursContext(t *testing.T) {
	m := NewMainThreadLauncher(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMainThreadLauncher_CancelStopsRunnable(t *testing.T) {
	m := NewMainThreadLauncher(nil)
	stopped := make(chan struct{})
	require.NoError(t, m.Launch(&runnableFunc{
		run: func(context.Context, any) (any, error) {
			<-stopped
			return "stopped", nil
		},
		stop: func() { close(stopped) },
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	value, err := m.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", value)
}

func TestMainThreadLauncher_Shutdown(t *testing.T) {
	m := NewMainThreadLauncher(nil)
	m.Shutdown()

	running := make(chan struct{})
	stopped := make(chan struct{})
	require.NoError(t, m.Launch(&runnableFunc{
		run: func(context.Context, any) (any, error) {
			close(running)
			<-stopped
			return nil, nil
		},
		stop: func() { close(stopped) },
	}, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Start(context.Background())
	}()
	waitClosed(t, running)
	m.Shutdown()
	waitClosed(t, done)
}

func TestMainApplicationLauncher_RunsDefaultApplication(t *testing.T) {
	env := newTestEnv(t, WithProperties(map[string]string{PropApplication: "test.main"}))
	env.declare("test.main", mainThread("singleton-global"), always(&funcApp{
		start: func(_ context.Context, appCtx ApplicationContext) (any, error) {
			return appCtx.Arguments()[ArgApplicationArgs], nil
		},
	}))
	env.start()

	trampoline := NewMainApplicationLauncher(env.container)
	env.container.launchMu.Lock()
	env.container.missingAppLauncher = trampoline
	env.container.launchMu.Unlock()
	env.registerLauncher(newGoLauncher())

	value, err := trampoline.Run(context.Background(), []string{"-x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-x"}, value)
}

func TestMainApplicationLauncher_StopBeforeRun(t *testing.T) {
	stopped := 0
	l := NewMainApplicationLauncher(nil)
	require.NoError(t, l.Launch(&runnableFunc{stop: func() { stopped++ }}, nil))
	l.Stop()
	assert.Equal(t, 1, stopped)
}

func TestMainApplicationLauncher_NothingLaunched(t *testing.T) {
	env := newTestEnv(t)
	env.start()
	launcher := newGoLauncher()
	env.registerLauncher(launcher)

	// Without a default id the error application goes to the real launcher,
	// so nothing reaches the trampoline.
	_, err := NewMainApplicationLauncher(env.container).Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrApplicationInternal)
	assert.ErrorIs(t, err, ErrNoApplicationID)

	outcome := launcher.next(t)
	assert.ErrorIs(t, outcome.err, ErrRuntime)
}

func TestMainApplicationLauncher_SpentAfterRun(t *testing.T) {
	env := newTestEnv(t)
	env.start()
	require.NoError(t, env.container.StartDefaultApp(context.Background(), true))

	launcher := newGoLauncher()
	env.registerLauncher(launcher)
	outcome := launcher.next(t)
	require.ErrorIs(t, outcome.err, ErrRuntime)
	assert.Contains(t, outcome.err.Error(), "No application id has been found.")

	env.container.launchMu.Lock()
	assert.Nil(t, env.container.missingAppLauncher)
	env.container.launchMu.Unlock()

	env.declare("test.main", mainThread("singleton-global"), returning("main", nil))
	h, err := env.launch("test.main", map[string]any{ArgDefault: true})
	require.NoError(t, err)
	outcome = launcher.next(t)
	require.NoError(t, outcome.err)
	assert.Equal(t, "main", outcome.value)

	value, err := h.ExitValue(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "main", value)
}
