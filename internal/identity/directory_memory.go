package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory directory useful for tests and local runs.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
	clock func() time.Time
}

func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users)), clock: time.Now}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) SetPushAddress(_ context.Context, id, token string, platform Platform) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" || !platform.Valid() {
		return User{}, ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	now := d.clock().UTC()
	u.DeviceToken = token
	u.Platform = platform
	u.IsOnline = true
	u.LastSeen = &now
	d.users[id] = u
	return u, nil
}

func (d *MemoryDirectory) SetOnlineStatus(_ context.Context, id string, online bool) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	now := d.clock().UTC()
	u.IsOnline = online
	u.LastSeen = &now
	d.users[id] = u
	return u, nil
}
