package blueberry

import (
	"context"
)

// Service interfaces the container publishes in, and reads from, the
// service registry.
const (
	ServiceApplicationDescriptor = "blueberry.ApplicationDescriptor"
	ServiceApplicationHandle     = "blueberry.ApplicationHandle"
	ServiceApplicationLauncher   = "blueberry.ApplicationLauncher"
)

// Reserved launch argument keys.
const (
	// ArgApplicationArgs carries the raw arguments the launcher was started
	// with (typically the command line after the framework's own flags).
	ArgApplicationArgs = "application.args"

	// ArgDefault marks a launch as the container's default application. It
	// is removed from the arguments the application sees.
	ArgDefault = "blueberry.application.default"

	// ArgErrorException carries the message the error application reports.
	ArgErrorException = "blueberry.error.exception"
)

// Published service property keys.
const (
	PropApplicationName        = "application.name"
	PropApplicationIcon        = "application.icon"
	PropApplicationVisible     = "application.visible"
	PropApplicationLaunchable  = "application.launchable"
	PropApplicationLocked      = "application.locked"
	PropApplicationThread      = "application.thread"
	PropApplicationCardinality = "application.cardinality"
	PropApplicationDefault     = "application.default"
	PropApplicationState       = "application.state"
	PropApplicationDescriptor  = "application.descriptor"
	PropSupportsExitValue      = "application.supports.exitvalue"
)

// Extension points the container reads.
const (
	PointApplications = "org.blueberry.osgi.applications"
	PointProducts     = "org.blueberry.core.runtime.products"
)

// Application is the executable object named by the run element of an
// application extension.
type Application interface {
	// Start runs the application and returns its exit value. Returning
	// ExitAsyncResult defers the result to ApplicationContext.SetResult.
	Start(ctx context.Context, appCtx ApplicationContext) (any, error)

	// Stop asks a running application to finish. It may be called from any
	// goroutine, possibly before Start returns.
	Stop()
}

// ApplicationContext is what a running Application sees of its handle.
type ApplicationContext interface {
	// Arguments returns a copy of the launch arguments.
	Arguments() map[string]any

	// ApplicationRunning signals that the application is fully up, for
	// instance that a splash screen may be taken down.
	ApplicationRunning()

	// Branding returns the product branding of the running product, or nil.
	Branding() Branding

	// SetResult reports the result of an application that returned
	// ExitAsyncResult. Only the first result counts.
	SetResult(value any, err error) error
}

type asyncResult struct{}

func (asyncResult) String() string { return "<async result>" }

// ExitAsyncResult is returned from Application.Start when the result will be
// delivered later through ApplicationContext.SetResult.
var ExitAsyncResult any = asyncResult{}

// ApplicationRunnable is the unit of work an ApplicationLauncher executes.
type ApplicationRunnable interface {
	Run(ctx context.Context, args any) (any, error)
	Stop()
}

// ApplicationLauncher runs applications that need the process main thread.
// Implementations are registered under ServiceApplicationLauncher.
type ApplicationLauncher interface {
	Launch(runnable ApplicationRunnable, args any) error
}
