package apps

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/GoCodeAlone/blueberry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	args     map[string]any
	branding blueberry.Branding
	running  int
}

func (f *fakeContext) Arguments() map[string]any    { return f.args }
func (f *fakeContext) ApplicationRunning()          { f.running++ }
func (f *fakeContext) Branding() blueberry.Branding { return f.branding }
func (f *fakeContext) SetResult(any, error) error   { return nil }

type brand struct{ name string }

func (b brand) ID() string             { return "org.example.product" }
func (b brand) Name() string           { return b.name }
func (b brand) Application() string    { return ConsoleID }
func (b brand) Description() string    { return "" }
func (b brand) Property(string) string { return "" }

func TestHello(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no arguments", nil, "Hello, world!"},
		{"empty arguments", map[string]any{blueberry.ArgApplicationArgs: []string{}}, "Hello, world!"},
		{"joined arguments", map[string]any{blueberry.ArgApplicationArgs: []string{"Ada", "Lovelace"}}, "Hello, Ada Lovelace!"},
		{"foreign argument type", map[string]any{blueberry.ArgApplicationArgs: "Ada"}, "Hello, world!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			appCtx := &fakeContext{args: tt.args}
			value, err := (&Hello{Out: out}).Start(context.Background(), appCtx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
			assert.Equal(t, tt.want+"\n", out.String())
			assert.Equal(t, 1, appCtx.running)
		})
	}
}

func TestConsole_StopsOnStop(t *testing.T) {
	out := new(bytes.Buffer)
	c := &Console{Out: out}
	c.Stop()
	c.Stop()

	appCtx := &fakeContext{branding: brand{name: "Demo"}}
	v, err := c.Start(context.Background(), appCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.Equal(t, 1, appCtx.running)
	assert.Equal(t, "Demo console running, interrupt to exit\n", out.String())
}

func TestConsole_StopWhileRunning(t *testing.T) {
	c := &Console{}
	done := make(chan any, 1)
	go func() {
		v, _ := c.Start(context.Background(), &fakeContext{})
		done <- v
	}()
	c.Stop()
	select {
	case v := <-done:
		assert.Equal(t, 0, v)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestConsole_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := (&Console{}).Start(ctx, &fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestExtensionsAndFactories(t *testing.T) {
	exts := Extensions()
	require.Len(t, exts, 2)
	factories := Factories(nil)
	for _, ext := range exts {
		assert.Equal(t, blueberry.PointApplications, ext.PointID)
		class := ext.Elements[0].ChildrenNamed("run")[0].Attribute("class")
		require.Contains(t, factories, class)
		obj, err := factories[class]()
		require.NoError(t, err)
		assert.Implements(t, (*blueberry.Application)(nil), obj)
	}
	assert.Len(t, Options(nil), 1+len(factories))
}
