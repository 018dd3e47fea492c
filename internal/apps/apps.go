// Package apps holds the applications bundled with the blueberry command.
package apps

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/GoCodeAlone/blueberry"
	"github.com/GoCodeAlone/blueberry/extension"
)

const (
	HelloID   = "blueberry.apps.hello"
	ConsoleID = "blueberry.apps.console"

	helloClass   = "apps.Hello"
	consoleClass = "apps.Console"
)

// Hello greets the first application argument and exits.
type Hello struct {
	Out io.Writer
}

func (h *Hello) Start(_ context.Context, appCtx blueberry.ApplicationContext) (any, error) {
	name := "world"
	if args, ok := appCtx.Arguments()[blueberry.ArgApplicationArgs].([]string); ok && len(args) > 0 {
		name = strings.Join(args, " ")
	}
	appCtx.ApplicationRunning()
	greeting := fmt.Sprintf("Hello, %s!", name)
	if h.Out != nil {
		fmt.Fprintln(h.Out, greeting)
	}
	return greeting, nil
}

func (h *Hello) Stop() {}

// Console occupies the main thread until it is stopped.
type Console struct {
	Out io.Writer

	once sync.Once
	done chan struct{}
}

func (c *Console) init() { c.once.Do(func() { c.done = make(chan struct{}) }) }

func (c *Console) Start(ctx context.Context, appCtx blueberry.ApplicationContext) (any, error) {
	c.init()
	if c.Out != nil {
		name := "blueberry"
		if b := appCtx.Branding(); b != nil && b.Name() != "" {
			name = b.Name()
		}
		fmt.Fprintf(c.Out, "%s console running, interrupt to exit\n", name)
	}
	appCtx.ApplicationRunning()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return 0, nil
}

func (c *Console) Stop() {
	c.init()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Extensions returns the extensions declaring the bundled applications.
func Extensions() []*extension.Extension {
	return []*extension.Extension{
		application(HelloID, "Hello", helloClass, map[string]string{"thread": "any", "cardinality": "*"}),
		application(ConsoleID, "Console", consoleClass, map[string]string{"thread": "main", "cardinality": "singleton-global"}),
	}
}

// Factories returns the class factories for the bundled applications.
func Factories(out io.Writer) map[string]extension.Factory {
	return map[string]extension.Factory{
		helloClass:   func() (any, error) { return &Hello{Out: out}, nil },
		consoleClass: func() (any, error) { return &Console{Out: out}, nil },
	}
}

// Options returns the framework options contributing the bundled applications.
func Options(out io.Writer) []blueberry.FrameworkOption {
	opts := []blueberry.FrameworkOption{blueberry.WithExtensions(Extensions()...)}
	for class, f := range Factories(out) {
		opts = append(opts, blueberry.WithFactory(class, f))
	}
	return opts
}

func application(id, name, class string, attrs map[string]string) *extension.Extension {
	return &extension.Extension{
		UniqueID:    id,
		Label:       name,
		PointID:     blueberry.PointApplications,
		Contributor: "blueberry.apps",
		Elements: []*extension.ConfigurationElement{{
			Name:       "application",
			Attributes: attrs,
			Children: []*extension.ConfigurationElement{{
				Name:       "run",
				Attributes: map[string]string{"class": class},
			}},
		}},
	}
}
