package broadcast

import (
	"context"
	"sync"
)

// MemoryBus is an in-process bus. It keeps a log of everything published so
// tests can assert on it. Slow subscribers drop messages rather than block
// publishers.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	log    []Envelope
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*subscription]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := encode(channel, event, payload)
	if err != nil {
		return err
	}
	env, err := decode(msg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.log = append(b.log, env)
	for s := range b.subs[channel] {
		select {
		case s.out <- env:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	var s *subscription
	s = newSubscription(16, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[channel]; ok {
			if _, ok := set[s]; ok {
				delete(set, s)
				close(s.out)
			}
			if len(set) == 0 {
				delete(b.subs, channel)
			}
		}
		return nil
	})
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s, nil
}

// Published returns a copy of every envelope published so far, in order.
func (b *MemoryBus) Published() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Envelope, len(b.log))
	copy(out, b.log)
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			close(s.out)
		}
	}
	b.subs = nil
	return nil
}
