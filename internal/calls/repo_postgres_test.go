//go:build integration

package calls

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/identity"
	"call-signaling/pkg/utils"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags integration ./internal/calls/...
// Requires a Docker daemon.

var pgDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "calls",
				"POSTGRES_PASSWORD": "calls",
				"POSTGRES_DB":       "calls",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "calls: failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	pgDSN = fmt.Sprintf("host=%s port=%s user=calls password=calls dbname=calls sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newPostgresRepo(t *testing.T) *SQLRepo {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, pgDSN, utils.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{`DROP TABLE IF EXISTS calls`, `DROP TABLE IF EXISTS users`} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, identity.Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	dir := identity.NewSQLDirectory(db)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, dir.Create(ctx, identity.User{ID: id, Name: "user " + id}))
	}
	return NewSQLRepo(db)
}

func TestPostgresRepo_Contract(t *testing.T) {
	repoContract(t, newPostgresRepo(t))
}

func TestPostgresRepo_WinnerReadsOwnWrite(t *testing.T) {
	repoRaceContract(t, newPostgresRepo(t))
}

// Many goroutines race the same compare-and-swap over a real connection pool.
func TestPostgresRepo_ConcurrentEndsSingleWinner(t *testing.T) {
	repo := newPostgresRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := repo.Create(ctx, sampleCall(1, "1", "2", now))
	require.NoError(t, err)

	const racers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ended := time.Now().UTC()
			_, err := repo.UpdateIfStatus(ctx, "call-01", StatusInitiated, Patch{Status: StatusEnded, EndedAt: &ended, UpdatedAt: ended})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case err == ErrConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, racers-1, conflicts)
}
