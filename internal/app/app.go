// Package app assembles the process: storage, transports, notification
// fan-out and the call service, from one validated config. Both binaries
// build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/broadcast"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/identity"
	"call-signaling/internal/notify"
	"call-signaling/internal/push"
	"call-signaling/internal/rtc"
	"call-signaling/internal/telemetry"
	"call-signaling/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "call-signaling"

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *utils.DB
	Redis *redis.Client // nil unless a Redis host is configured

	// Bus is nil when broadcasting is disabled; Publisher is then a no-op.
	Bus       broadcast.Bus
	Publisher broadcast.Publisher

	Directory *identity.SQLDirectory
	Audit     *audit.Service
	Calls     *calls.Service
	RTC       *rtc.Issuer

	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics
	Tracer   *sdktrace.TracerProvider

	closers []func(context.Context) error
}

// New opens every dependency and runs schema migrations. On error whatever
// was opened is closed again.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) (err error) {
	cfg, log := a.Config, a.Log
	a.Registry = prometheus.NewRegistry()
	if cfg.Telemetry.MetricsEnabled {
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = telemetry.NewMetrics(a.Registry)
	}
	if cfg.Telemetry.TracingEnabled {
		if a.Tracer, err = telemetry.InitTracer(ServiceName, os.Stdout); err != nil {
			return fmt.Errorf("tracer init: %w", err)
		}
		a.onClose(func(ctx context.Context) error { return telemetry.ShutdownTracer(ctx, a.Tracer) })
	}

	if err = a.openDB(ctx); err != nil {
		return err
	}
	if cfg.Redis.Host != "" {
		if a.Redis, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()}); err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		a.onClose(func(context.Context) error { return a.Redis.Close() })
	}
	if err = a.openBus(); err != nil {
		return err
	}

	if a.RTC, err = rtc.NewIssuer(rtc.Config{
		AppID:        cfg.RTC.AppID,
		ServerSecret: cfg.RTC.ServerSecret,
		TokenTTL:     cfg.RTC.TokenTTL,
		PublicURL:    cfg.App.PublicURL,
	}); err != nil {
		return fmt.Errorf("rtc init: %w", err)
	}

	a.Directory = identity.NewSQLDirectory(a.DB)
	a.Audit = audit.NewService(audit.NewSQLRepo(a.DB))
	dispatcher := notify.New(notify.Options{
		Broadcast: a.Publisher,
		Push:      a.pushRouter(),
		Directory: a.Directory,
		Metrics:   a.Metrics,
		Logger:    log.With("component", "notify"),
		Timeout:   cfg.Calls.NotifyTimeout,
		Async:     true,
	})
	a.onClose(dispatcher.Wait)
	a.Calls = calls.NewService(calls.NewSQLRepo(a.DB), a.Directory, calls.Options{
		Notifier: dispatcher,
		Audit:    a.Audit,
		Metrics:  a.Metrics,
		Logger:   log.With("component", "calls"),
	})
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) openDB(ctx context.Context) error {
	var err error
	switch a.Config.DB.Driver {
	case "sqlite":
		a.DB, err = utils.OpenSQLite(ctx, a.Config.DB.SQLitePath)
	default:
		a.DB, err = utils.OpenPostgres(ctx, a.Config.PostgresDSN(), utils.PoolConfig{})
	}
	if err != nil {
		return fmt.Errorf("%s init: %w", a.Config.DB.Driver, err)
	}
	a.onClose(func(context.Context) error { return a.DB.Close() })

	// calls and call_events reference users, so order matters.
	if err := identity.Migrate(ctx, a.DB); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	if err := calls.Migrate(ctx, a.DB); err != nil {
		return fmt.Errorf("migrate calls: %w", err)
	}
	if err := audit.Migrate(ctx, a.DB); err != nil {
		return fmt.Errorf("migrate call_events: %w", err)
	}
	return nil
}

func (a *App) openBus() error {
	a.Publisher = broadcast.Noop{}
	if !a.Config.Broadcast.Enabled {
		return nil
	}
	switch a.Config.Broadcast.Driver {
	case "nats":
		bus, err := broadcast.DialNATS(a.Config.Broadcast.NATSURL, ServiceName, a.Log.With("component", "broadcast"))
		if err != nil {
			return err
		}
		a.Bus = bus
		a.onClose(func(context.Context) error { return bus.Close() })
	default:
		if a.Redis == nil {
			return errors.New("broadcast: redis driver selected but REDIS_HOST is not set")
		}
		a.Bus = broadcast.NewRedisBus(a.Redis, "", a.Log.With("component", "broadcast"))
	}
	a.Publisher = a.Bus
	return nil
}

// pushRouter returns nil when push is disabled. A platform whose credentials
// are missing is left out of the router and its devices are skipped.
func (a *App) pushRouter() notify.Pusher {
	cfg := a.Config.Push
	if !cfg.Enabled {
		return nil
	}
	client := &http.Client{Timeout: 10 * time.Second}

	var android, ios push.Provider
	if fcm, err := push.NewFCM(push.FCMConfig{ServerKey: cfg.FCM.ServerKey, Endpoint: cfg.FCM.Endpoint}, client); err == nil {
		android = fcm
	} else {
		a.Log.Warn("fcm disabled", "err", err)
	}
	if apns, err := push.NewAPNs(push.APNsConfig{
		KeyID:      cfg.APNs.KeyID,
		TeamID:     cfg.APNs.TeamID,
		BundleID:   cfg.APNs.BundleID,
		KeyPath:    cfg.APNs.KeyPath,
		Production: cfg.APNs.Production,
	}, client); err == nil {
		ios = apns
	} else {
		a.Log.Warn("apns disabled", "err", err)
	}
	return push.NewRouter(android, ios)
}

// Checks lists readiness probes by name.
func (a *App) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"db": func(ctx context.Context) error { return utils.HealthCheck(ctx, a.DB.DB, time.Second) },
	}
	if p, ok := a.Bus.(interface{ Ping(context.Context) error }); ok {
		checks["broadcast"] = p.Ping
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
