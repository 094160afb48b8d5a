// Package notify delivers committed call transitions to the counterpart:
// one real-time broadcast and, when the device is registered, one push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-signaling/internal/broadcast"
	"call-signaling/internal/calls"
	"call-signaling/internal/identity"
	"call-signaling/internal/push"
	"call-signaling/internal/telemetry"
	"call-signaling/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = 5 * time.Second

// ErrDeliveryFailed marks a failed broadcast or push. It is logged and
// counted, never returned to the caller of Dispatch.
var ErrDeliveryFailed = errors.New("notify: delivery failed")

// Pusher is satisfied by *push.Router.
type Pusher interface {
	Send(ctx context.Context, token, platform string, n push.Notification) error
}

type Options struct {
	Broadcast broadcast.Publisher
	// Push is nil when push notifications are disabled.
	Push      Pusher
	Directory identity.Directory
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Timeout   time.Duration
	// Async hands each event to its own goroutine so Dispatch returns at once.
	// Wait drains them.
	Async bool
}

type Dispatcher struct {
	bus     broadcast.Publisher
	push    Pusher
	dir     identity.Directory
	metrics *telemetry.Metrics
	log     *slog.Logger
	timeout time.Duration
	async   bool

	inflight sync.WaitGroup
}

var _ calls.Notifier = (*Dispatcher)(nil)

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		bus:     opts.Broadcast,
		push:    opts.Push,
		dir:     opts.Directory,
		metrics: opts.Metrics,
		log:     logger.OrDiscard(opts.Logger),
		timeout: opts.Timeout,
		async:   opts.Async,
	}
	if d.bus == nil {
		d.bus = broadcast.Noop{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	return d
}

func userChannel(id string) string { return broadcast.UserChannel(id) }

// Dispatch delivers ev. It outlives request cancellation but is bounded by
// the configured timeout. In async mode it returns before delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev calls.TransitionEvent) {
	ctx = context.WithoutCancel(ctx)
	if !d.async {
		d.dispatch(ctx, ev)
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("dispatch panicked", "call_id", ev.Call.ID, "event", string(ev.Kind), "panic", r)
			}
		}()
		d.dispatch(ctx, ev)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev calls.TransitionEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_ = d.deliver(ctx, ev)
	d.metrics.ObserveDispatch(string(ev.Kind), time.Since(start))
}

// Wait blocks until in-flight async deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: waiting for deliveries: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev calls.TransitionEvent) error {
	log := d.log.With("call_id", ev.Call.ID, "event", string(ev.Kind), "target_id", ev.TargetID)
	if ev.TargetID == "" {
		log.Warn("notification has no target")
		return fmt.Errorf("%w: no target", ErrDeliveryFailed)
	}

	actor := d.lookup(ctx, ev.ActorID, log)
	msg, err := compose(ev, actor)
	if err != nil {
		log.Error("cannot compose notification", "err", err)
		return err
	}

	// Plain Group: a failed broadcast must not cancel the push, or the reverse.
	var g errgroup.Group
	g.Go(func() error { return d.guard("broadcast", ev, log, func() error { return d.broadcast(ctx, msg) }) })
	g.Go(func() error { return d.guard("push", ev, log, func() error { return d.sendPush(ctx, ev, msg, log) }) })
	return g.Wait()
}

// guard runs one channel, turning panics and errors into ErrDeliveryFailed,
// and records the outcome.
func (d *Dispatcher) guard(channel string, ev calls.TransitionEvent, log *slog.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrDeliveryFailed, channel, r)
		}
		outcome := "ok"
		switch {
		case errors.Is(err, errSkipped):
			outcome, err = "skipped", nil
		case err != nil:
			outcome = "failed"
			log.Warn("notification delivery failed", "channel", channel, "reason", err.Error())
			if !errors.Is(err, ErrDeliveryFailed) {
				err = fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, channel, err)
			}
		}
		d.metrics.ObserveNotification(channel, string(ev.Kind), outcome)
	}()
	return fn()
}

var errSkipped = errors.New("notify: skipped")

func (d *Dispatcher) broadcast(ctx context.Context, msg message) error {
	return d.bus.Publish(ctx, msg.Channel, msg.Event, msg.Payload)
}

func (d *Dispatcher) sendPush(ctx context.Context, ev calls.TransitionEvent, msg message, log *slog.Logger) error {
	if d.push == nil || d.dir == nil {
		return errSkipped
	}
	target, err := d.dir.FindByID(ctx, ev.TargetID)
	if err != nil {
		return fmt.Errorf("lookup target: %w", err)
	}
	if !target.HasPushAddress() {
		return errSkipped
	}
	err = d.push.Send(ctx, target.DeviceToken, string(target.Platform), msg.Push)
	if errors.Is(err, push.ErrNotConfigured) {
		log.Debug("push skipped", "platform", string(target.Platform), "reason", err.Error())
		return errSkipped
	}
	return err
}

// lookup resolves the actor for display. A missing actor degrades the text,
// it does not stop delivery.
func (d *Dispatcher) lookup(ctx context.Context, id string, log *slog.Logger) identity.User {
	if d.dir == nil || id == "" {
		return identity.User{ID: id}
	}
	u, err := d.dir.FindByID(ctx, id)
	if err != nil {
		log.Warn("actor lookup failed", "actor_id", id, "err", err)
		return identity.User{ID: id}
	}
	return u
}
