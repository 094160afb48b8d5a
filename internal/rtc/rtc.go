// Package rtc issues the credentials a client needs to join a media room
// on the external RTC provider. The server secret never leaves the process;
// clients get a short-lived room token signed with it.
package rtc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTokenTTL = time.Hour

var (
	ErrNotConfigured = errors.New("rtc: app id and server secret are required")
	ErrInvalidToken  = errors.New("rtc: invalid room token")
)

type Config struct {
	AppID        string
	ServerSecret string
	TokenTTL     time.Duration
	// PublicURL is the base of web join links, e.g. https://calls.example.com.
	PublicURL string
}

type Credentials struct {
	AppID     string    `json:"app_id"`
	Token     string    `json:"token"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialProvider is what the API layer needs from an RTC backend.
type CredentialProvider interface {
	IssueRoomCredentials(roomID, userID, userName string) (Credentials, error)
	JoinURL(roomID, callType, chatWith string) string
}

type RoomClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

type Issuer struct {
	appID     string
	secret    []byte
	ttl       time.Duration
	publicURL string
	now       func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.AppID) == "" || cfg.ServerSecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Issuer{
		appID:     cfg.AppID,
		secret:    []byte(cfg.ServerSecret),
		ttl:       cfg.TokenTTL,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
	}, nil
}

func (i *Issuer) IssueRoomCredentials(roomID, userID, userName string) (Credentials, error) {
	if roomID == "" || userID == "" {
		return Credentials{}, fmt.Errorf("rtc: room id and user id are required")
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := RoomClaims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{i.appID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("rtc: sign room token: %w", err)
	}
	return Credentials{
		AppID:     i.appID,
		Token:     signed,
		RoomID:    roomID,
		UserID:    userID,
		UserName:  userName,
		ExpiresAt: exp.Truncate(time.Second),
	}, nil
}

// Verify checks a room token the way the media side would.
func (i *Issuer) Verify(token string) (RoomClaims, error) {
	var claims RoomClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.appID),
		jwt.WithAudience(i.appID),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return RoomClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// JoinURL builds the web call-page link for a room.
func (i *Issuer) JoinURL(roomID, callType, chatWith string) string {
	q := url.Values{}
	q.Set("roomID", roomID)
	q.Set("type", callType)
	q.Set("chatWith", chatWith)
	return i.publicURL + "/call/call-page?" + q.Encode()
}
