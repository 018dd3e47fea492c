package blueberry

import (
	"context"
	"errors"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := NewEventBus(&testLogger{t: t})
	var got []string
	record := func(id string) Observer {
		return NewFunctionalObserver(id, func(context.Context, CloudEvent) error {
			got = append(got, id)
			return nil
		})
	}

	require.NoError(t, bus.RegisterObserver(record("first")))
	require.NoError(t, bus.RegisterObserver(record("second"), EventTypeFrameworkStarted))
	require.NoError(t, bus.RegisterObserver(record("third"), EventTypeFrameworkStopped))
	require.NoError(t, bus.RegisterObserver(record("first"), EventTypeFrameworkStarted), "re-registering keeps the position")

	event := NewCloudEvent(EventTypeFrameworkStarted, "test", nil, nil)
	require.NoError(t, bus.NotifyObservers(context.Background(), event))
	assert.Equal(t, []string{"first", "second"}, got)

	infos := bus.GetObservers()
	require.Len(t, infos, 3)
	assert.Equal(t, "first", infos[0].ID)
	assert.Equal(t, []string{EventTypeFrameworkStarted}, infos[0].EventTypes)
}

func TestEventBus_CollectsObserverFailures(t *testing.T) {
	bus := NewEventBus(nil)
	boom := errors.New("boom")
	reached := false

	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("fails", func(context.Context, CloudEvent) error { return boom })))
	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("panics", func(context.Context, CloudEvent) error { panic("oops") })))
	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("reached", func(context.Context, CloudEvent) error {
		reached = true
		return nil
	})))

	err := bus.NotifyObservers(context.Background(), NewCloudEvent(EventTypeFrameworkStarting, "test", nil, nil))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.True(t, reached)
}

func TestEventBus_RejectsInvalidEvents(t *testing.T) {
	bus := NewEventBus(nil)
	assert.ErrorIs(t, bus.RegisterObserver(nil), ErrInvalidArgument)
	require.NoError(t, bus.UnregisterObserver(nil))

	invalid := cloudevents.NewEvent()
	assert.Error(t, bus.NotifyObservers(context.Background(), invalid))
}

func TestEventBus_Unregister(t *testing.T) {
	bus := NewEventBus(nil)
	calls := 0
	o := NewFunctionalObserver("counter", func(context.Context, CloudEvent) error {
		calls++
		return nil
	})
	require.NoError(t, bus.RegisterObserver(o))
	require.NoError(t, bus.NotifyObservers(context.Background(), NewCloudEvent(EventTypeFrameworkStarted, "test", nil, nil)))
	require.NoError(t, bus.UnregisterObserver(o))
	require.NoError(t, bus.NotifyObservers(context.Background(), NewCloudEvent(EventTypeFrameworkStarted, "test", nil, nil)))
	assert.Equal(t, 1, calls)
	assert.Empty(t, bus.GetObservers())
}

func TestPluginIDOf(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		want     int64
		ok       bool
	}{
		{"absent", nil, 0, false},
		{"framework", map[string]any{ExtensionPluginID: 0}, 0, true},
		{"plugin", map[string]any{ExtensionPluginID: 7}, 7, true},
		{"string", map[string]any{ExtensionPluginID: "12"}, 12, true},
		{"garbage", map[string]any{ExtensionPluginID: "x"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := PluginIDOf(NewCloudEvent(EventTypeFrameworkStopping, "test", nil, tt.metadata))
			assert.Equal(t, tt.want, id)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent(EventTypeApplicationLaunched, "blueberry.container", map[string]any{"instance": "a.0"}, nil)
	require.NoError(t, ValidateCloudEvent(event))
	assert.NotEmpty(t, event.ID())
	assert.Equal(t, "blueberry.container", event.Source())

	other := NewCloudEvent(EventTypeApplicationLaunched, "blueberry.container", nil, nil)
	assert.NotEqual(t, event.ID(), other.ID())
}
