package blueberry

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// Launch and lifecycle errors
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrIllegalState             = errors.New("illegal state")
	ErrApplicationNotLaunchable = errors.New("application not launchable")
	ErrApplicationInternal      = errors.New("application internal error")
	ErrResultNotAvailable       = errors.New("result not available")
	ErrRuntime                  = errors.New("runtime error")

	// Container errors
	ErrContainerNotStarted = errors.New("application container not started")
	ErrNoApplicationID     = errors.New("no application id has been found")
	ErrMainThreadBusy      = errors.New("main thread is already running an application")
	ErrNotRunnable         = errors.New("extension does not provide an application")

	// Configuration errors
	ErrConfigNil       = errors.New("config is nil")
	ErrInvalidSchedule = errors.New("invalid rescan schedule")
)

// ErrorCode classifies an ApplicationError.
type ErrorCode int

const (
	CodeInvalidArgument ErrorCode = iota + 1
	CodeIllegalState
	CodeNotLaunchable
	CodeInternal
	CodeResultNotAvailable
	CodeRuntime
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeIllegalState:
		return "IllegalState"
	case CodeNotLaunchable:
		return "ApplicationNotLaunchable"
	case CodeInternal:
		return "ApplicationInternalError"
	case CodeResultNotAvailable:
		return "ResultNotAvailable"
	case CodeRuntime:
		return "RuntimeError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

func (c ErrorCode) sentinel() error {
	switch c {
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeIllegalState:
		return ErrIllegalState
	case CodeNotLaunchable:
		return ErrApplicationNotLaunchable
	case CodeInternal:
		return ErrApplicationInternal
	case CodeResultNotAvailable:
		return ErrResultNotAvailable
	case CodeRuntime:
		return ErrRuntime
	default:
		return nil
	}
}

// ApplicationError is returned by descriptors, handles and the container.
// It matches the sentinel for its Code with errors.Is, so callers can write
// errors.Is(err, ErrApplicationNotLaunchable) and still recover the lock
// reason with errors.As.
type ApplicationError struct {
	Code    ErrorCode
	Reason  LockReason
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	msg := e.Code.sentinel().Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the sentinel for this error's code.
func (e *ApplicationError) Is(target error) bool {
	return target == e.Code.sentinel()
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

func newAppError(code ErrorCode, format string, args ...any) *ApplicationError {
	return &ApplicationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
