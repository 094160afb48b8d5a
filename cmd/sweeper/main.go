// Command sweeper ends calls left ringing past CALLS_MISSED_TIMEOUT. It runs
// once and exits; schedule it from cron. Concurrent runs are single-flighted
// through Redis.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-signaling/internal/app"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const lockKey = "call-signaling:sweep:lock"

func main() {
	os.Exit(run())
}

// run returns the process exit code. Deferred cleanup, including the slot
// release, happens before main exits.
func run() int {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		return 1
	}
	log := logger.New(cfg.App.Env).With("component", "sweeper")
	slog.SetDefault(log)

	if !cfg.Calls.AutoEndMissedCalls {
		log.Info("auto-end of missed calls is disabled, nothing to do")
		return 0
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()

	if a.Redis == nil {
		log.Error("sweeper needs redis for its single-flight lock")
		return 1
	}

	// The lock outlives a healthy run; a crashed run frees it on expiry.
	lockTTL := 5 * time.Minute
	lock := redisSlot{rdb: a.Redis, key: lockKey, ttl: lockTTL}
	return runLocked(rootCtx, lock, log, func() int {
		ctx, cancel := context.WithTimeout(rootCtx, lockTTL)
		defer cancel()
		return sweepOnce(ctx, a.Calls, cfg.Calls.MissedCallTimeout, cfg.Calls.SweepBatchSize, log)
	})
}

type slot interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisSlot struct {
	rdb redis.Scripter
	key string
	ttl time.Duration
}

func (s redisSlot) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireSlot(ctx, s.rdb, s.key, 1, s.ttl)
}

func (s redisSlot) Release(ctx context.Context) error {
	return utils.ReleaseSlot(ctx, s.rdb, s.key)
}

// runLocked runs fn while holding the slot and releases it whatever fn returns.
func runLocked(ctx context.Context, l slot, log *slog.Logger, fn func() int) int {
	ok, err := l.Acquire(ctx)
	if err != nil {
		log.Error("sweep lock failed", "err", err)
		return 1
	}
	if !ok {
		log.Info("another sweep is running, skipping")
		return 0
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("sweep unlock failed", "err", err)
		}
	}()
	return fn()
}

// sweepOnce runs every batch and maps the outcome to an exit code.
func sweepOnce(ctx context.Context, s sweeper, maxAge time.Duration, batch int, log *slog.Logger) int {
	total, err := sweepAll(ctx, s, maxAge, batch, log)
	if err != nil {
		log.Error("sweep failed", "err", err, "ended", total.Ended, "skipped", total.Skipped)
		return 1
	}
	log.Info("sweep finished", "scanned", total.Scanned, "ended", total.Ended, "skipped", total.Skipped)
	return 0
}

type sweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration, limit int) (calls.SweepResult, error)
}

// sweepAll repeats batches until one comes back short or ends nothing.
func sweepAll(ctx context.Context, s sweeper, maxAge time.Duration, batch int, log *slog.Logger) (calls.SweepResult, error) {
	var total calls.SweepResult
	for {
		res, err := s.SweepStale(ctx, maxAge, batch)
		total.Scanned += res.Scanned
		total.Ended += res.Ended
		total.Skipped += res.Skipped
		if err != nil {
			return total, err
		}
		log.Debug("sweep batch", "scanned", res.Scanned, "ended", res.Ended, "skipped", res.Skipped)
		if res.Scanned < batch || res.Ended == 0 {
			return total, nil
		}
	}
}
