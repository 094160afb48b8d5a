package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"call-signaling/internal/identity"
)

// userRef accepts a user id sent either as a JSON string or a number.
type userRef string

func (u *userRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or a number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("user id must be an integer")
	}
	*u = userRef(n.String())
	return nil
}

type initiateRequest struct {
	ReceiverID userRef         `json:"receiver_id" binding:"required"`
	CallType   string          `json:"call_type" binding:"required,oneof=audio video"`
	Metadata   json.RawMessage `json:"metadata"`
}

type generateTokenRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

type historyQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1"`
}

type registerDeviceRequest struct {
	DeviceToken string `json:"device_token" binding:"required"`
	Platform    string `json:"platform"`
	// DevicePlatform is the older field name, still sent by some clients.
	DevicePlatform string `json:"device_platform"`
}

func (r registerDeviceRequest) platform() identity.Platform {
	if r.Platform != "" {
		return identity.Platform(r.Platform)
	}
	return identity.Platform(r.DevicePlatform)
}

type onlineStatusRequest struct {
	// Pointer so an explicit false passes "required".
	IsOnline *bool `json:"is_online" binding:"required"`
}

type tokenRequest struct {
	UserID userRef `json:"user_id" binding:"required"`
}

type userSummary struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email,omitempty"`
	DevicePlatform identity.Platform `json:"device_platform,omitempty"`
	IsOnline       bool              `json:"is_online"`
}

type availabilityUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"is_online"`
	LastSeen any    `json:"last_seen"`
}

func lastSeen(u identity.User) any {
	if u.LastSeen == nil {
		return nil
	}
	return u.LastSeen.UTC()
}
