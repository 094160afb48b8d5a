package calls

import (
	"context"
	"time"
)

// Repository is the call record store. It is the only shared mutable state;
// callers never cache calls across requests.
type Repository interface {
	// Create inserts a new call. ErrDuplicateRoomID if the room id is taken.
	Create(ctx context.Context, c Call) (Call, error)
	FindByID(ctx context.Context, id string) (Call, error)
	FindByRoomID(ctx context.Context, roomID string) (Call, error)
	// UpdateIfStatus writes p only if the stored status still equals expected.
	// ErrConflict if it does not, ErrNotFound if the row is gone.
	UpdateIfStatus(ctx context.Context, id string, expected Status, p Patch) (Call, error)
	// ListActiveForUser returns the user's calls in an active status, newest first.
	ListActiveForUser(ctx context.Context, userID string) ([]Call, error)
	// ListHistoryForUser returns every call of the user, newest first.
	ListHistoryForUser(ctx context.Context, userID string, page Page) (PageResult, error)
	// ListStaleInitiated returns initiated calls created before cutoff, oldest first.
	ListStaleInitiated(ctx context.Context, cutoff time.Time, limit int) ([]Call, error)
}
