package app

import (
	"context"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/identity"
	"call-signaling/pkg/logger"

	"github.com/stretchr/testify/require"
)

func sqliteConfig() config.Config {
	var cfg config.Config
	cfg.App.Env = "local"
	cfg.App.Port = 8080
	cfg.DB.Driver = "sqlite"
	cfg.DB.SQLitePath = ":memory:"
	cfg.Auth.JWTSecret = "secret"
	cfg.RTC.AppID = "app"
	cfg.RTC.ServerSecret = "rtc-secret"
	cfg.Push.Enabled = true
	cfg.Push.FCM.ServerKey = "fcm-key"
	cfg.Telemetry.MetricsEnabled = true
	return cfg
}

func TestNew_SQLiteStack(t *testing.T) {
	cfg := sqliteConfig()
	require.NoError(t, cfg.Validate())
	ctx := context.Background()

	a, err := New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.Nil(t, a.Bus, "broadcast disabled")
	require.NotNil(t, a.Metrics)
	require.Contains(t, a.Checks(), "db")
	require.NotContains(t, a.Checks(), "broadcast")
	require.NoError(t, a.Checks()["db"](ctx))

	for _, u := range []identity.User{{ID: "1", Name: "Alice"}, {ID: "2", Name: "Bob"}} {
		require.NoError(t, a.Directory.Create(ctx, u))
	}
	c, err := a.Calls.Initiate(ctx, calls.InitiateRequest{CallerID: "1", ReceiverID: "2", Type: calls.CallTypeVideo})
	require.NoError(t, err)
	_, err = a.Calls.Accept(ctx, c.ID, "2")
	require.NoError(t, err)

	trail, err := a.Audit.Trail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)

	creds, err := a.RTC.IssueRoomCredentials(c.RoomID, "1", "Alice")
	require.NoError(t, err)
	require.True(t, creds.ExpiresAt.After(time.Now()))
}

func TestNew_RedisBroadcastNeedsRedis(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Broadcast.Enabled = true
	cfg.Broadcast.Driver = "redis"

	_, err := New(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
}
