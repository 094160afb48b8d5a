// Package broadcast carries real-time call events to users over a pub/sub
// transport. Channels are per user ("user.<id>"); delivery is at-most-once.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is what goes over the wire and out to websocket clients.
type Envelope struct {
	ID         string          `json:"id"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
	Close() error
}

// Subscription delivers envelopes until Close is called or the transport drops.
// C is closed when the subscription ends.
type Subscription interface {
	C() <-chan Envelope
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus is a transport that can both publish and subscribe.
type Bus interface {
	Publisher
	Subscriber
}

var ErrClosed = errors.New("broadcast: bus closed")

// UserChannel is the private channel of one user.
func UserChannel(userID string) string {
	return "user." + userID
}

func encode(channel, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Channel:    channel,
		Event:      event,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	})
}

func decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("broadcast: decode envelope: %w", err)
	}
	return e, nil
}

// Noop discards everything. Used when broadcasting is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }
func (Noop) Close() error                                       { return nil }

// subscription is shared by the transport adapters: a pump goroutine feeds
// out and stop tears the transport side down.
type subscription struct {
	out  chan Envelope
	stop func() error
	done chan struct{}
}

func newSubscription(buffer int, stop func() error) *subscription {
	return &subscription{out: make(chan Envelope, buffer), stop: stop, done: make(chan struct{})}
}

func (s *subscription) C() <-chan Envelope { return s.out }

func (s *subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.stop()
}

// deliver forwards e unless the subscription is closing.
func (s *subscription) deliver(e Envelope) bool {
	select {
	case s.out <- e:
		return true
	case <-s.done:
		return false
	}
}
