package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/identity"
	"call-signaling/pkg/utils"

	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) *SQLRepo {
	t.Helper()
	return newSQLiteRepoAt(t, ":memory:")
}

func newSQLiteRepoAt(t *testing.T, path string) *SQLRepo {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, identity.Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))
	// Migrations are idempotent.
	require.NoError(t, Migrate(ctx, db))

	dir := identity.NewSQLDirectory(db)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, dir.Create(ctx, identity.User{ID: id, Name: "user " + id}))
	}
	return NewSQLRepo(db)
}

func sampleCall(n int, caller, receiver string, created time.Time) Call {
	return Call{
		ID:         fmt.Sprintf("call-%02d", n),
		RoomID:     fmt.Sprintf("room_%02d", n),
		CallerID:   caller,
		ReceiverID: receiver,
		Type:       CallTypeVideo,
		Status:     StatusInitiated,
		Metadata:   json.RawMessage(`{"n":` + fmt.Sprint(n) + `}`),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// repoContract runs the store contract against any Repository binding.
func repoContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	t0 := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	t.Run("create and find", func(t *testing.T) {
		c, err := repo.Create(ctx, sampleCall(1, "1", "2", t0))
		require.NoError(t, err)
		require.Equal(t, StatusInitiated, c.Status)
		require.JSONEq(t, `{"n":1}`, string(c.Metadata))
		require.True(t, c.CreatedAt.Equal(t0))
		require.Nil(t, c.StartedAt)
		require.Nil(t, c.Duration)

		byID, err := repo.FindByID(ctx, "call-01")
		require.NoError(t, err)
		require.Equal(t, "room_01", byID.RoomID)

		byRoom, err := repo.FindByRoomID(ctx, "room_01")
		require.NoError(t, err)
		require.Equal(t, "call-01", byRoom.ID)

		_, err = repo.FindByID(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindByRoomID(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate room id", func(t *testing.T) {
		dup := sampleCall(2, "1", "3", t0)
		dup.RoomID = "room_01"
		_, err := repo.Create(ctx, dup)
		require.ErrorIs(t, err, ErrDuplicateRoomID)
	})

	t.Run("compare and swap", func(t *testing.T) {
		started := t0.Add(3 * time.Second)
		c, err := repo.UpdateIfStatus(ctx, "call-01", StatusInitiated, Patch{Status: StatusAccepted, StartedAt: &started, UpdatedAt: started})
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, c.Status)
		require.NotNil(t, c.StartedAt)
		require.True(t, c.StartedAt.Equal(started))

		// Same expected status again: the row moved on.
		_, err = repo.UpdateIfStatus(ctx, "call-01", StatusInitiated, Patch{Status: StatusRejected, UpdatedAt: started})
		require.ErrorIs(t, err, ErrConflict)

		_, err = repo.UpdateIfStatus(ctx, "missing", StatusInitiated, Patch{Status: StatusEnded, UpdatedAt: started})
		require.ErrorIs(t, err, ErrNotFound)

		ended := started.Add(61 * time.Second)
		dur := 61
		c, err = repo.UpdateIfStatus(ctx, "call-01", StatusAccepted, Patch{Status: StatusEnded, EndedAt: &ended, Duration: &dur, UpdatedAt: ended})
		require.NoError(t, err)
		require.Equal(t, StatusEnded, c.Status)
		require.True(t, c.StartedAt.Equal(started), "started_at must survive the end patch")
		require.Equal(t, 61, *c.Duration)
		require.True(t, c.UpdatedAt.Equal(ended))
	})

	t.Run("listing", func(t *testing.T) {
		for i, p := range [][2]string{{"2", "1"}, {"1", "3"}, {"2", "3"}} {
			_, err := repo.Create(ctx, sampleCall(10+i, p[0], p[1], t0.Add(time.Duration(i+1)*time.Minute)))
			require.NoError(t, err)
		}

		active, err := repo.ListActiveForUser(ctx, "1")
		require.NoError(t, err)
		require.Len(t, active, 2)
		require.Equal(t, "call-11", active[0].ID, "newest first")
		require.Equal(t, "call-10", active[1].ID)

		page, err := repo.ListHistoryForUser(ctx, "1", Page{Page: 1, PerPage: 2})
		require.NoError(t, err)
		require.Equal(t, 3, page.Total)
		require.Equal(t, 2, page.PerPage)
		require.Len(t, page.Data, 2)
		require.Equal(t, "call-11", page.Data[0].ID)

		page, err = repo.ListHistoryForUser(ctx, "1", Page{Page: 2, PerPage: 2})
		require.NoError(t, err)
		require.Len(t, page.Data, 1)
		require.Equal(t, "call-01", page.Data[0].ID)

		page, err = repo.ListHistoryForUser(ctx, "1", Page{Page: 9, PerPage: 2})
		require.NoError(t, err)
		require.Empty(t, page.Data)
		require.NotNil(t, page.Data)

		empty, err := repo.ListActiveForUser(ctx, "nobody")
		require.NoError(t, err)
		require.NotNil(t, empty)
		require.Empty(t, empty)
	})

	t.Run("stale initiated", func(t *testing.T) {
		stale, err := repo.ListStaleInitiated(ctx, t0.Add(150*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, stale, 2)
		require.Equal(t, "call-10", stale[0].ID, "oldest first")
		require.Equal(t, "call-11", stale[1].ID)

		stale, err = repo.ListStaleInitiated(ctx, t0.Add(time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, stale, 1)
	})
}

func TestMemoryRepo_Contract(t *testing.T) {
	repoContract(t, NewMemoryRepo())
	t.Run("concurrent transitions", func(t *testing.T) {
		repoRaceContract(t, NewMemoryRepo())
	})
}

func TestSQLiteRepo_Contract(t *testing.T) {
	repoContract(t, newSQLiteRepo(t))

	t.Run("concurrent ends on a file database", func(t *testing.T) {
		repo := newSQLiteRepoAt(t, filepath.Join(t.TempDir(), "calls.db"))
		repoRaceContract(t, repo)
	})
}

// repoRaceContract races transitions on one call: exactly one compare-and-swap
// wins, and the winner gets back the row it wrote.
func repoRaceContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	t0 := time.Now().UTC()

	const rounds = 20
	for i := 0; i < rounds; i++ {
		c, err := repo.Create(ctx, sampleCall(100+i, "1", "2", t0))
		require.NoError(t, err)

		started := t0.Add(time.Second)
		ended := t0.Add(2 * time.Second)
		patches := []Patch{
			{Status: StatusAccepted, StartedAt: &started, UpdatedAt: started},
			{Status: StatusEnded, EndedAt: &ended, UpdatedAt: ended},
			{Status: StatusEnded, EndedAt: &ended, UpdatedAt: ended},
			{Status: StatusRejected, EndedAt: &ended, UpdatedAt: ended},
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []Status
			conflicts int
		)
		start := make(chan struct{})
		for _, p := range patches {
			wg.Add(1)
			go func(p Patch) {
				defer wg.Done()
				<-start
				got, err := repo.UpdateIfStatus(ctx, c.ID, StatusInitiated, p)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					if got.Status != p.Status {
						t.Errorf("winner wrote %s but got back %s", p.Status, got.Status)
					}
					winners = append(winners, got.Status)
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(p)
		}
		close(start)
		wg.Wait()

		require.Len(t, winners, 1)
		require.Equal(t, len(patches)-1, conflicts)

		stored, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, winners[0], stored.Status)
	}
}

func TestSQLiteRepo_RejectsSelfCallAndUnknownUsers(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, sampleCall(1, "1", "1", now))
	require.Error(t, err)

	_, err = repo.Create(ctx, sampleCall(2, "1", "404", now))
	require.Error(t, err)
}

func TestSQLiteRepo_ServiceEndToEnd(t *testing.T) {
	repo := newSQLiteRepo(t)
	dir := identity.NewMemoryDirectory(identity.User{ID: "1", Name: "Alice"}, identity.User{ID: "2", Name: "Bob"})
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(repo, dir, Options{Clock: clock.Now})
	ctx := context.Background()

	c, err := svc.Initiate(ctx, InitiateRequest{CallerID: "1", ReceiverID: "2", Type: CallTypeAudio})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, c.ID, "2")
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	res, err := svc.End(ctx, c.ID, "1")
	require.NoError(t, err)
	require.Equal(t, 90, *res.Call.Duration)

	again, err := svc.End(ctx, c.ID, "2")
	require.NoError(t, err)
	require.True(t, again.AlreadyEnded)
}
