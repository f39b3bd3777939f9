package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// EventSent fires after a successful delivery attempt.
	EventSent = "notification.sent"
	// EventFailed fires after a failed delivery attempt.
	EventFailed = "notification.failed"
)

// Event is the payload POSTed to every configured endpoint.
type Event struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notifier fans events out to configured endpoints. Delivery is
// best-effort: endpoints are called concurrently and independently,
// failures are logged and never escalate to the caller.
type Notifier struct {
	endpoints []string
	secret    string
	client    *http.Client
	log       zerolog.Logger
}

func NewNotifier(endpoints []string, secret string, log zerolog.Logger) *Notifier {
	return &Notifier{
		endpoints: endpoints,
		secret:    secret,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

// Notify posts {event, timestamp, data} to every endpoint and waits
// for all deliveries to finish.
func (n *Notifier) Notify(ctx context.Context, event string, data any) {
	if len(n.endpoints) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	body, err := json.Marshal(Event{Event: event, Timestamp: now, Data: data})
	if err != nil {
		n.log.Error().Err(err).Str("event", event).Msg("failed to marshal webhook payload")
		return
	}

	var wg sync.WaitGroup
	for _, endpoint := range n.endpoints {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := n.deliver(ctx, url, event, now, body); err != nil {
				n.log.Error().Err(err).Str("event", event).Str("url", url).Msg("webhook delivery failed")
			}
		}(endpoint)
	}
	wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, url, event string, timestamp int64, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "notifyd-webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	n.log.Debug().Str("url", url).Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}

// Sign computes the signature header value for a payload:
// sha256=<hex HMAC-SHA256(secret, body)>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header against a payload using
// constant-time comparison.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
