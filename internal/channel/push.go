package channel

import (
	"context"
	"fmt"
)

// PushSender is registered for the push channel but has no provider
// yet. It always fails so push jobs surface as failed deliveries
// instead of silently succeeding.
type PushSender struct{}

func NewPushSender() *PushSender {
	return &PushSender{}
}

func (s *PushSender) Send(ctx context.Context, to, body, subject string) error {
	return fmt.Errorf("%w: push", ErrChannelNotImplemented)
}
