package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/obs"
	"github.com/kasira-dev/fees-engine/internal/resilience"
)

// Sender delivers fee refresh pings to the display layer webhook. The ping
// tells downstream caches that a session's fee ledger changed and carries the
// event payload so consumers can refresh without a read-back.
type Sender struct {
	URL       string
	Secret    string
	HTTP      *resilience.HTTPClient
	Replay    ReplayProtector
	ReplayTTL time.Duration
	UserAgent string
}

// Send posts the signed refresh ping for the given event. A non-2xx response
// or transport failure is returned as an error so the queue can retry.
func (s *Sender) Send(ctx context.Context, event events.Event) error {
	if s == nil || s.HTTP == nil {
		return errors.New("notify: sender not configured")
	}
	ctx, span := otel.Tracer("notify.Sender").Start(ctx, "Sender.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("refresh.event_id", event.ID.String()),
		attribute.String("refresh.topic", event.Topic),
	)
	if err := validateURL(s.URL); err != nil {
		span.RecordError(err)
		return err
	}

	start := time.Now()
	if s.Replay != nil && s.ReplayTTL > 0 {
		ok, err := s.Replay.Acquire(ctx, refreshReplayKey(event), s.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !ok {
			span.AddEvent("refresh replay prevented")
			observeRefresh("suppressed", start)
			return nil
		}
	}

	body, err := json.Marshal(refreshPayload{
		EventID:    event.ID.String(),
		Topic:      event.Topic,
		Data:       event.Payload,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	ts := time.Now().Unix()
	agent := s.UserAgent
	if agent == "" {
		agent = "fees-engine-webhooks/1.0"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", agent)
	req.Header.Set("X-Event-ID", event.ID.String())
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", event.ID.String())
	req.Header.Set("X-Signature", ComputeSignature(s.Secret, ts, event.ID.String(), body))

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		observeRefresh("failed", start)
		s.releaseReplay(ctx, event)
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observeRefresh("failed", start)
		s.releaseReplay(ctx, event)
		return fmt.Errorf("notify: refresh endpoint returned %s", resp.Status)
	}
	observeRefresh("delivered", start)
	return nil
}

func (s *Sender) releaseReplay(ctx context.Context, event events.Event) {
	if s.Replay == nil || s.ReplayTTL <= 0 {
		return
	}
	_ = s.Replay.Release(ctx, refreshReplayKey(event))
}

func observeRefresh(result string, start time.Time) {
	if obs.RefreshDeliveriesTotal != nil {
		obs.RefreshDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.RefreshAttemptLatency != nil {
		obs.RefreshAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

type refreshPayload struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func refreshReplayKey(event events.Event) string {
	return "refresh:" + event.ID.String()
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for webhook delivery.
func HttpClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
