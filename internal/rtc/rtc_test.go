package rtc

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(Config{AppID: "app-1", ServerSecret: "s3cret", TokenTTL: 10 * time.Minute, PublicURL: "https://calls.example.com/"})
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_RequiresCredentials(t *testing.T) {
	_, err := NewIssuer(Config{AppID: "app"})
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewIssuer(Config{ServerSecret: "x"})
	require.ErrorIs(t, err, ErrNotConfigured)

	iss, err := NewIssuer(Config{AppID: "app", ServerSecret: "x"})
	require.NoError(t, err)
	require.Equal(t, DefaultTokenTTL, iss.ttl)
}

func TestIssueAndVerify(t *testing.T) {
	iss := newIssuer(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return now }

	creds, err := iss.IssueRoomCredentials("room_ABC", "7", "Alice")
	require.NoError(t, err)
	require.Equal(t, "app-1", creds.AppID)
	require.Equal(t, "room_ABC", creds.RoomID)
	require.Equal(t, "7", creds.UserID)
	require.Equal(t, "Alice", creds.UserName)
	require.Equal(t, now.Add(10*time.Minute), creds.ExpiresAt)
	require.NotContains(t, creds.Token, "s3cret")

	claims, err := iss.Verify(creds.Token)
	require.NoError(t, err)
	require.Equal(t, "room_ABC", claims.RoomID)
	require.Equal(t, "7", claims.Subject)

	now = now.Add(11 * time.Minute)
	_, err = iss.Verify(creds.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	creds, err := newIssuer(t).IssueRoomCredentials("room_1", "1", "A")
	require.NoError(t, err)

	other, err := NewIssuer(Config{AppID: "app-1", ServerSecret: "different"})
	require.NoError(t, err)
	_, err = other.Verify(creds.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssue_RequiresRoomAndUser(t *testing.T) {
	iss := newIssuer(t)
	_, err := iss.IssueRoomCredentials("", "1", "A")
	require.Error(t, err)
	_, err = iss.IssueRoomCredentials("room_1", "", "A")
	require.Error(t, err)
}

func TestJoinURL(t *testing.T) {
	raw := newIssuer(t).JoinURL("room_XYZ", "video", "Bob Smith")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
	require.Equal(t, "calls.example.com", u.Host)
	require.Equal(t, "/call/call-page", u.Path)
	require.Equal(t, "room_XYZ", u.Query().Get("roomID"))
	require.Equal(t, "video", u.Query().Get("type"))
	require.Equal(t, "Bob Smith", u.Query().Get("chatWith"))
}
