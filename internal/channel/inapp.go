package channel

import (
	"context"
	"sync"
	"time"
)

// InAppMessage is what realtime subscribers receive.
type InAppMessage struct {
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RealtimeTransport fans an in-app notification out to live
// connections for one recipient.
type RealtimeTransport interface {
	Publish(ctx context.Context, msg InAppMessage) error
}

// InAppSender delivers via a registered realtime transport. Dispatch
// fails loudly when no transport has been registered rather than
// pretending the message went anywhere.
type InAppSender struct {
	mu        sync.RWMutex
	transport RealtimeTransport
}

func NewInAppSender() *InAppSender {
	return &InAppSender{}
}

// RegisterTransport installs the live transport. Passing nil detaches it.
func (s *InAppSender) RegisterTransport(t RealtimeTransport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *InAppSender) Send(ctx context.Context, to, body, subject string) error {
	s.mu.RLock()
	transport := s.transport
	s.mu.RUnlock()

	if transport == nil {
		return ErrNoRealtimeTransport
	}
	return transport.Publish(ctx, InAppMessage{
		To:        to,
		Message:   body,
		Subject:   subject,
		Timestamp: time.Now(),
	})
}

// Hub is an in-process RealtimeTransport. Each recipient gets buffered
// subscription channels; slow consumers drop messages instead of
// blocking delivery.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan InAppMessage
	bufferSize  int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		subscribers: make(map[string][]chan InAppMessage),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a live connection for a recipient and returns
// the receive channel plus an unsubscribe func.
func (h *Hub) Subscribe(to string) (<-chan InAppMessage, func()) {
	ch := make(chan InAppMessage, h.bufferSize)

	h.mu.Lock()
	h.subscribers[to] = append(h.subscribers[to], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[to]
		for i, sub := range subs {
			if sub == ch {
				h.subscribers[to] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subscribers[to]) == 0 {
			delete(h.subscribers, to)
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(ctx context.Context, msg InAppMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[msg.To] {
		select {
		case ch <- msg:
		default:
			// Slow consumer, drop rather than block the worker.
		}
	}
	return nil
}
