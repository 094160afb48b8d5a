package identity

import (
	"context"
	"errors"
	"time"
)

// User is the directory view of a participant: who they are, whether they
// are reachable and where pushes go.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"profile_photo_url,omitempty"`

	// DeviceToken is the push address. Empty means the user cannot be pushed.
	DeviceToken string   `json:"-"`
	Platform    Platform `json:"device_platform,omitempty"`

	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

// HasPushAddress reports whether pushes can be routed to the user.
func (u User) HasPushAddress() bool {
	return u.DeviceToken != "" && u.Platform != ""
}

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound        = errors.New("identity: user not found")
	ErrInvalidArgument = errors.New("identity: invalid argument")
)

// Directory is the capability the call core depends on. The binding
// (memory, SQL) is chosen once at process wiring.
type Directory interface {
	FindByID(ctx context.Context, id string) (User, error)
	// SetPushAddress stores the device token and marks the user online.
	SetPushAddress(ctx context.Context, id, token string, platform Platform) (User, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) (User, error)
}
