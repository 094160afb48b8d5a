package calls

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory store useful for tests and local runs.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]Call
	byRoom map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Call{}, byRoom: map[string]string{}}
}

func (r *MemoryRepo) Create(_ context.Context, c Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRoom[c.RoomID]; ok {
		return Call{}, ErrDuplicateRoomID
	}
	if _, ok := r.byID[c.ID]; ok {
		return Call{}, ErrInvalidArgument
	}
	c = clone(c)
	r.byID[c.ID] = c
	r.byRoom[c.RoomID] = c.ID
	return clone(c), nil
}

func (r *MemoryRepo) FindByID(_ context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) FindByRoomID(_ context.Context, roomID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRoom[roomID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepo) UpdateIfStatus(_ context.Context, id string, expected Status, p Patch) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Status != expected {
		return Call{}, ErrConflict
	}
	c = p.Apply(c)
	r.byID[id] = clone(c)
	return clone(c), nil
}

func (r *MemoryRepo) ListActiveForUser(_ context.Context, userID string) ([]Call, error) {
	return r.filter(func(c Call) bool {
		return c.IsParticipant(userID) && c.Status.IsActive()
	}, newestFirst), nil
}

func (r *MemoryRepo) ListHistoryForUser(_ context.Context, userID string, page Page) (PageResult, error) {
	page = page.Normalize()
	all := r.filter(func(c Call) bool { return c.IsParticipant(userID) }, newestFirst)

	out := PageResult{Data: []Call{}, Page: page.Page, PerPage: page.PerPage, Total: len(all)}
	if off := page.Offset(); off < len(all) {
		end := min(off+page.PerPage, len(all))
		out.Data = all[off:end]
	}
	return out, nil
}

func (r *MemoryRepo) ListStaleInitiated(_ context.Context, cutoff time.Time, limit int) ([]Call, error) {
	stale := r.filter(func(c Call) bool {
		return c.Status == StatusInitiated && c.CreatedAt.Before(cutoff)
	}, func(a, b Call) bool { return a.CreatedAt.Before(b.CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *MemoryRepo) filter(keep func(Call) bool, less func(a, b Call) bool) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Call{}
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, clone(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func newestFirst(a, b Call) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// clone detaches pointer and slice fields so callers cannot mutate stored rows.
func clone(c Call) Call {
	if c.StartedAt != nil {
		t := *c.StartedAt
		c.StartedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		c.EndedAt = &t
	}
	if c.Duration != nil {
		d := *c.Duration
		c.Duration = &d
	}
	if c.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), c.Metadata...)
	}
	return c
}
