package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSConfig configures the HTTP SMS gateway adapter.
type SMSConfig struct {
	GatewayURL string
	Token      string
	Sender     string
}

// SMSGatewaySender posts messages to an SMS gateway over HTTP. The
// gateway is an opaque provider; any non-2xx response is a failure.
type SMSGatewaySender struct {
	client *http.Client
	cfg    SMSConfig
}

func NewSMSGatewaySender(cfg SMSConfig) *SMSGatewaySender {
	return &SMSGatewaySender{
		client: &http.Client{Timeout: 15 * time.Second},
		cfg:    cfg,
	}
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func (s *SMSGatewaySender) Send(ctx context.Context, to, body, _ string) error {
	payload, err := json.Marshal(smsPayload{To: to, From: s.cfg.Sender, Body: body})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
