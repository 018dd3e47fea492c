package blueberry

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/blueberry/extension"
)

// ErrorApplication is launched in place of a default application that could
// not be found. It fails immediately with the message passed in
// ArgErrorException, or with IllegalState when there is none.
type ErrorApplication struct{}

// Start reports the launch problem as a runtime error.
func (ErrorApplication) Start(_ context.Context, appCtx ApplicationContext) (any, error) {
	msg, _ := appCtx.Arguments()[ArgErrorException].(string)
	if msg == "" {
		return nil, newAppError(CodeIllegalState, "an error has occurred while launching the application")
	}
	return nil, &ApplicationError{Code: CodeRuntime, Message: msg}
}

// Stop is a no-op; Start never blocks.
func (ErrorApplication) Stop() {}

// ErrorApplicationExtension returns the extension that declares the error
// application.
func ErrorApplicationExtension() *extension.Extension {
	return &extension.Extension{
		UniqueID:    ErrorApplicationID,
		Label:       "Error Application",
		PointID:     PointApplications,
		Contributor: "org.blueberry.core.runtime",
		Elements: []*extension.ConfigurationElement{{
			Name: "application",
			Attributes: map[string]string{
				"cardinality": "singleton-global",
				"thread":      "main",
				"visible":     "false",
			},
			Children: []*extension.ConfigurationElement{{
				Name:       "run",
				Attributes: map[string]string{"class": errorApplicationClass},
			}},
		}},
	}
}

// RegisterErrorApplication declares the error application in r.
func RegisterErrorApplication(r *extension.Registry) error {
	r.RegisterFactory(errorApplicationClass, func() (any, error) { return ErrorApplication{}, nil })
	if r.Extension(PointApplications, ErrorApplicationID) != nil {
		return nil
	}
	if err := r.AddExtension(ErrorApplicationExtension()); err != nil {
		return fmt.Errorf("declare error application: %w", err)
	}
	return nil
}
