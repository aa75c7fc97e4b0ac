package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kasira-dev/fees-engine/internal/events"
)

type stubStore struct {
	lastTopic     string
	lastAggregate uuid.UUID
	lastPayload   []byte
	err           error
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (uuid.UUID, error) {
	s.lastTopic = topic
	s.lastAggregate = aggregateID
	s.lastPayload = payload
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return uuid.New(), nil
}

type captureScheduler struct {
	events []events.Event
}

func (c *captureScheduler) Schedule(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"sessionId": aggregate.String(), "ledgerVersion": 3}
	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicFeesRecalculated, aggregate, payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicFeesRecalculated, store.lastTopic)
	require.Equal(t, aggregate, store.lastAggregate)
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)
	require.False(t, event.OccurredAt.IsZero())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, aggregate.String(), decoded["sessionId"])
	require.EqualValues(t, 3, decoded["ledgerVersion"])
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), "  ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicFeesRecalculated, uuid.Nil, nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicFeesRecalculated, uuid.New(), []byte("{not json"))
	require.Error(t, err)
}

func TestEmitEmptyPayloadDefaultsToObject(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store}
	_, err := bus.Emit(context.Background(), events.TopicSessionDeleted, uuid.New(), "")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(store.lastPayload))
}

func TestEmitIsolatesNotifierFailure(t *testing.T) {
	store := &stubStore{}
	failing := &captureNotifier{err: errors.New("webhook down")}
	healthy := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{failing, healthy}}

	event, err := bus.Emit(context.Background(), events.TopicFeesRecalcFailed, uuid.New(), nil)
	require.Error(t, err)
	require.NotEqual(t, uuid.Nil, event.ID)
	require.Len(t, healthy.events, 1)
}

func TestEmitStoreFailure(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	bus := events.Bus{Store: store}
	_, err := bus.Emit(context.Background(), events.TopicFeesRecalculated, uuid.New(), nil)
	require.Error(t, err)
}
