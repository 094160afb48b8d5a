package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"call-signaling/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes on core NATS subjects; "user.<id>" maps onto a subject
// directly. Core NATS has no persistence, which matches the at-most-once
// contract of live call events.
type NATSBus struct {
	nc  *nats.Conn
	log *slog.Logger
}

// DialNATS connects with unlimited reconnects. The returned bus owns the
// connection.
func DialNATS(url, name string, log *slog.Logger) (*NATSBus, error) {
	log = logger.OrDiscard(log)
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broadcast: nats connect: %w", err)
	}
	return NewNATSBus(nc, log), nil
}

func NewNATSBus(nc *nats.Conn, log *slog.Logger) *NATSBus {
	return &NATSBus{nc: nc, log: logger.OrDiscard(log)}
}

func (b *NATSBus) Publish(ctx context.Context, channel, event string, payload any) error {
	if b == nil || b.nc == nil || b.nc.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := encode(channel, event, payload)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(channel, msg); err != nil {
		return fmt.Errorf("broadcast: nats publish %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if b == nil || b.nc == nil || b.nc.IsClosed() {
		return nil, ErrClosed
	}
	raw := make(chan *nats.Msg, 64)
	ns, err := b.nc.ChanSubscribe(channel, raw)
	if err != nil {
		return nil, fmt.Errorf("broadcast: nats subscribe %s: %w", channel, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("broadcast: nats flush: %w", err)
	}

	sub := newSubscription(16, ns.Unsubscribe)
	go func() {
		defer close(sub.out)
		for {
			select {
			case <-sub.done:
				return
			case m := <-raw:
				env, err := decode(m.Data)
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

// Close drains in-flight publishes before closing the connection.
func (b *NATSBus) Close() error {
	if b == nil || b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if b == nil || b.nc == nil {
		return ErrClosed
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("broadcast: nats status %s", b.nc.Status())
	}
	return b.nc.FlushWithContext(ctx)
}
