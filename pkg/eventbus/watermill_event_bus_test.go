package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/director/pkg/channels/gochannel"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := NewWatermillEventBus(pub, sub, nil)

	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.WorkflowRenumbered, 1)

	require.NoError(t, bus.Handle(events.WorkflowRenumberedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.WorkflowRenumbered)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "wf-1", events.WorkflowRenumbered{
		BaseEvent: events.NewBaseEvent(events.WorkflowRenumberedEvent, "wf-1"),
		Changes:   []models.PositionChange{{ID: "u", OldPosition: 3, NewPosition: 1}},
	}))

	select {
	case event := <-received:
		assert.Equal(t, "wf-1", event.WorkflowID)
		require.Len(t, event.Changes, 1)
		assert.Equal(t, 1, event.Changes[0].NewPosition)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	t.Parallel()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := NewWatermillEventBus(pub, sub, nil)

	t.Cleanup(func() { _ = bus.Close() })

	require.NoError(t, bus.Subscribe(t.Context()))
	assert.NoError(t, bus.Publish(t.Context(), "wf-1", events.NodeDeleted{
		BaseEvent: events.NewBaseEvent(events.NodeDeletedEvent, "wf-1"),
	}))
	assert.NotEmpty(t, bus.GenerateID())
}
