package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"call-signaling/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans events out over Redis PUBLISH/SUBSCRIBE. Messages published
// while nobody is subscribed are lost.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedisBus does not own rdb; Close leaves the client open.
func NewRedisBus(rdb *redis.Client, prefix string, log *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, prefix: prefix, log: logger.OrDiscard(log)}
}

func (b *RedisBus) key(channel string) string { return b.prefix + channel }

func (b *RedisBus) Publish(ctx context.Context, channel, event string, payload any) error {
	if b == nil || b.rdb == nil {
		return ErrClosed
	}
	msg, err := encode(channel, event, payload)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.key(channel), msg).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if b == nil || b.rdb == nil {
		return nil, ErrClosed
	}
	ps := b.rdb.Subscribe(ctx, b.key(channel))
	// Wait for the subscribe confirmation so nothing published after we
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast: redis subscribe %s: %w", channel, err)
	}

	sub := newSubscription(16, ps.Close)
	msgs := ps.Channel()
	go func() {
		defer close(sub.out)
		for {
			select {
			case <-sub.done:
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				env, err := decode([]byte(m.Payload))
				if err != nil {
					b.log.Warn("broadcast: dropping malformed message", "channel", channel, "err", err)
					continue
				}
				if !sub.deliver(env) {
					return
				}
			}
		}
	}()
	return sub, nil
}

func (b *RedisBus) Close() error { return nil }

// Ping reports whether the Redis server answers.
func (b *RedisBus) Ping(ctx context.Context) error {
	if b == nil || b.rdb == nil {
		return errors.New("broadcast: redis not configured")
	}
	return b.rdb.Ping(ctx).Err()
}
