package events

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []string

	bus.Subscribe(EventTrade, func(e Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(EventTrade, func(e Event) error {
		order = append(order, "second")
		return nil
	})

	bus.Publish(Event{Type: EventTrade})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := NewBus()
	called := false

	bus.Subscribe(EventFill, func(e Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(EventFill, func(e Event) error {
		called = true
		return nil
	})

	bus.Publish(Event{Type: EventFill})
	assert.True(t, called)
}

func TestHandlerErrorIsLogged(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	// The logger binds stderr at Init time, so swap it before
	// re-initializing and restore both afterwards.
	origStderr := os.Stderr
	os.Stderr = w
	telemetry.Init(slog.LevelWarn)
	defer func() {
		os.Stderr = origStderr
		telemetry.Init(slog.LevelInfo)
	}()

	bus := NewBus()
	bus.Subscribe(EventFill, func(e Event) error {
		return errors.New("journal write failed")
	})
	bus.Publish(Event{Type: EventFill})

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Contains(t, string(out), "WARN")
	assert.Contains(t, string(out), "journal write failed")
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := NewBus()
	trades, fills := 0, 0

	bus.Subscribe(EventTrade, func(e Event) error { trades++; return nil })
	bus.Subscribe(EventFill, func(e Event) error { fills++; return nil })

	bus.Publish(Event{Type: EventTrade})
	bus.Publish(Event{Type: EventTrade})
	bus.Publish(Event{Type: EventWSStatus}) // no handler, no panic

	assert.Equal(t, 2, trades)
	assert.Equal(t, 0, fills)
}
