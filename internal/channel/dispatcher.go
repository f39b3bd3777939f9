package channel

import (
	"context"
	"errors"
	"fmt"

	"notifyd/internal/models"
)

var (
	// ErrUnknownChannel is returned for a channel with no adapter.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrChannelNotImplemented is returned by adapters that exist in
	// the channel set but have no provider behind them yet.
	ErrChannelNotImplemented = errors.New("channel not implemented")

	// ErrNoRealtimeTransport is returned by the in-app adapter when
	// no realtime transport has been registered.
	ErrNoRealtimeTransport = errors.New("no realtime transport registered")
)

// Sender is the uniform provider contract: deliver one message to one
// recipient, or fail.
type Sender interface {
	Send(ctx context.Context, to, body, subject string) error
}

// Dispatcher routes a delivery to the adapter registered for its
// channel.
type Dispatcher struct {
	senders map[models.Channel]Sender
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{senders: make(map[models.Channel]Sender)}
}

// Register binds an adapter to a channel, replacing any previous one.
func (d *Dispatcher) Register(ch models.Channel, s Sender) {
	d.senders[ch] = s
}

func (d *Dispatcher) Send(ctx context.Context, ch models.Channel, to, body, subject string) error {
	sender, ok := d.senders[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	return sender.Send(ctx, to, body, subject)
}
