package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

type FCMConfig struct {
	ServerKey string
	Endpoint  string
}

// FCM talks to the legacy HTTP API with a server key.
type FCM struct {
	key      string
	endpoint string
	client   *http.Client
}

func NewFCM(cfg FCMConfig, client *http.Client) (*FCM, error) {
	if cfg.ServerKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFCMEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FCM{key: cfg.ServerKey, endpoint: cfg.Endpoint, client: client}, nil
}

type fcmNotification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Sound    string `json:"sound"`
	Priority string `json:"priority"`
}

type fcmMessage struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Data         map[string]any    `json:"data"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Android      map[string]string `json:"android,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

func (f *FCM) message(token string, n Notification) fcmMessage {
	msg := fcmMessage{To: token, Priority: "high", Data: n.data()}
	if n.Urgent() {
		// Data-only so the app handles the ring itself.
		msg.Android = map[string]string{"priority": "high"}
		return msg
	}
	msg.Notification = &fcmNotification{Title: n.Title, Body: n.Body, Sound: "default", Priority: "high"}
	return msg
}

func (f *FCM) Send(ctx context.Context, token string, n Notification) error {
	body, err := json.Marshal(f.message(token, n))
	if err != nil {
		return fmt.Errorf("push: fcm encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: fcm request: %w", err)
	}
	req.Header.Set("Authorization", "key="+f.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: fcm send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: fcm status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out fcmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// A 2xx without a parseable body is treated as accepted.
		return nil
	}
	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return fmt.Errorf("%w: fcm %s", ErrRejected, reason)
	}
	return nil
}
