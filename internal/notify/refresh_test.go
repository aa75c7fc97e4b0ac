package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/lock"
	"github.com/kasira-dev/fees-engine/internal/notify"
	"github.com/kasira-dev/fees-engine/internal/queue"
	"github.com/kasira-dev/fees-engine/internal/resilience"
)

func lockClient(client *redis.Client) lock.Locker {
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func testEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicFeesRecalculated,
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{"ledgerVersion":4}`),
		OccurredAt:  time.Now().UTC(),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sender := &notify.Sender{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
			Target:      "refresh_webhook",
		},
	}
	event := testEvent()

	require.NoError(t, sender.Send(context.Background(), event))

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, event.ID.String(), req.Header.Get("X-Event-ID"))
	require.Equal(t, event.ID.String(), req.Header.Get("X-Idempotency-Key"))
	timestamp := req.Header.Get("X-Timestamp")
	require.NotEmpty(t, timestamp)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, event.ID.String(), record.body), req.Header.Get("X-Signature"))

	var decoded struct {
		EventID string          `json:"eventId"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(record.body, &decoded))
	require.Equal(t, event.ID.String(), decoded.EventID)
	require.Equal(t, events.TopicFeesRecalculated, decoded.Topic)
	require.JSONEq(t, `{"ledgerVersion":4}`, string(decoded.Data))
}

func TestSendFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sender := &notify.Sender{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
			Target:      "refresh_webhook",
		},
	}

	err := sender.Send(context.Background(), testEvent())
	require.Error(t, err)
}

func TestSendSuppressesReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sender := &notify.Sender{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
		},
		Replay:    notify.RedisReplayProtector{Client: client},
		ReplayTTL: time.Minute,
	}
	event := testEvent()

	require.NoError(t, sender.Send(context.Background(), event))
	require.NoError(t, sender.Send(context.Background(), event))
	require.Equal(t, 1, hits)
}

func TestSchedulerEnqueuesRecalcEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	scheduler := notify.Scheduler{
		Queue:   queue.Enqueuer{R: client, Prefix: "sched"},
		Enabled: true,
	}

	require.NoError(t, scheduler.Schedule(context.Background(), testEvent()))

	failed := testEvent()
	failed.Topic = events.TopicFeesRecalcFailed
	require.NoError(t, scheduler.Schedule(context.Background(), failed))

	depth, err := client.ZCard(context.Background(), "sched:queue:"+queue.KindNotifyRefresh).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestRefreshWorkerDelivers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	worker := notify.RefreshWorker{
		Sender: &notify.Sender{
			URL:    srv.URL,
			Secret: "secret",
			HTTP: &resilience.HTTPClient{
				Client:      srv.Client(),
				Breaker:     resilience.NewBreaker(1, 1, time.Second),
				MaxAttempts: 1,
				Timeout:     time.Second,
			},
		},
		Locker: lockClient(client),
	}

	payload, err := json.Marshal(testEvent())
	require.NoError(t, err)
	require.NoError(t, worker.Handle(context.Background(), payload))

	select {
	case <-received:
	default:
		t.Fatal("expected delivery")
	}
}
