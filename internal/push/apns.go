package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	APNsProductionEndpoint = "https://api.push.apple.com"
	APNsSandboxEndpoint    = "https://api.sandbox.push.apple.com"

	// Apple rejects provider tokens older than an hour.
	apnsTokenLifetime = 50 * time.Minute
)

type APNsConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	KeyPath    string
	Production bool
	// Endpoint overrides the host picked from Production.
	Endpoint string
}

// APNs sends over HTTP/2 with a token-based (.p8) provider credential.
type APNs struct {
	keyID    string
	teamID   string
	bundleID string
	endpoint string
	key      *ecdsa.PrivateKey
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

func NewAPNs(cfg APNsConfig, client *http.Client) (*APNs, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" || cfg.KeyPath == "" {
		return nil, ErrNotConfigured
	}
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("push: read apns key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("push: parse apns key: %w", err)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = APNsSandboxEndpoint
		if cfg.Production {
			endpoint = APNsProductionEndpoint
		}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &APNs{
		keyID:    cfg.KeyID,
		teamID:   cfg.TeamID,
		bundleID: cfg.BundleID,
		endpoint: endpoint,
		key:      key,
		client:   client,
		now:      time.Now,
	}, nil
}

// providerToken returns the cached ES256 token, minting a new one when stale.
func (a *APNs) providerToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Sub(a.issuedAt) < apnsTokenLifetime {
		return a.token, nil
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.teamID,
		"iat": now.Unix(),
	})
	t.Header["kid"] = a.keyID
	signed, err := t.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("push: sign apns token: %w", err)
	}
	a.token, a.issuedAt = signed, now
	return signed, nil
}

func (a *APNs) payload(n Notification) map[string]any {
	body := n.data()
	if n.Urgent() {
		body["aps"] = map[string]any{"content-available": 1}
		return body
	}
	body["aps"] = map[string]any{
		"alert": map[string]string{"title": n.Title, "body": n.Body},
		"sound": "default",
	}
	return body
}

type apnsError struct {
	Reason string `json:"reason"`
}

func (a *APNs) Send(ctx context.Context, deviceToken string, n Notification) error {
	bearer, err := a.providerToken()
	if err != nil {
		return err
	}
	body, err := json.Marshal(a.payload(n))
	if err != nil {
		return fmt.Errorf("push: apns encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/3/device/"+deviceToken, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: apns request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("apns-priority", "10")
	if n.Urgent() {
		req.Header.Set("apns-topic", a.bundleID+".voip")
		req.Header.Set("apns-push-type", "voip")
	} else {
		req.Header.Set("apns-topic", a.bundleID)
		req.Header.Set("apns-push-type", "alert")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: apns send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr apnsError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Reason == "" {
		apiErr.Reason = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusForbidden && apiErr.Reason == "ExpiredProviderToken" {
		a.invalidate()
	}
	return fmt.Errorf("%w: apns status %d: %s", ErrRejected, resp.StatusCode, apiErr.Reason)
}

func (a *APNs) invalidate() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

