// Package push delivers call notifications to mobile devices through FCM
// (android) and APNs (ios).
package push

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindIncomingCall Kind = "incoming_call"
	KindCallAccepted Kind = "call_accepted"
	KindCallRejected Kind = "call_rejected"
	KindCallEnded    Kind = "call_ended"
)

// Action is the client-side action string carried next to the kind.
func (k Kind) Action() string {
	switch k {
	case KindIncomingCall:
		return "call_initiated"
	default:
		return string(k)
	}
}

var (
	// ErrNotConfigured means no provider can serve the device. Callers treat
	// it as a skip, not a failure.
	ErrNotConfigured = errors.New("push: provider not configured")
	// ErrRejected wraps a refusal from the provider (bad token, bad payload).
	ErrRejected = errors.New("push: rejected by provider")
)

// Notification is provider-neutral. Data values must be JSON-encodable.
type Notification struct {
	Kind  Kind
	Title string
	Body  string
	Data  map[string]any
}

// Urgent notifications wake the device to ring: FCM data-only high
// priority, APNs voip.
func (n Notification) Urgent() bool { return n.Kind == KindIncomingCall }

// data returns the flat data map sent to the device, including title, body,
// notification_type and action.
func (n Notification) data() map[string]any {
	out := make(map[string]any, len(n.Data)+4)
	for k, v := range n.Data {
		out[k] = v
	}
	out["title"] = n.Title
	out["body"] = n.Body
	out["notification_type"] = string(n.Kind)
	out["action"] = n.Kind.Action()
	return out
}

type Provider interface {
	Send(ctx context.Context, token string, n Notification) error
}

type ProviderFunc func(ctx context.Context, token string, n Notification) error

func (f ProviderFunc) Send(ctx context.Context, token string, n Notification) error {
	return f(ctx, token, n)
}

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// Router picks the provider for a device platform. A nil Router, a nil
// provider or an unknown platform yields ErrNotConfigured.
type Router struct {
	providers map[string]Provider
}

func NewRouter(android, ios Provider) *Router {
	r := &Router{providers: make(map[string]Provider, 2)}
	if android != nil {
		r.providers[PlatformAndroid] = android
	}
	if ios != nil {
		r.providers[PlatformIOS] = ios
	}
	return r
}

func (r *Router) Send(ctx context.Context, token, platform string, n Notification) error {
	if r == nil || token == "" {
		return ErrNotConfigured
	}
	p, ok := r.providers[platform]
	if !ok {
		return fmt.Errorf("%w: platform %q", ErrNotConfigured, platform)
	}
	return p.Send(ctx, token, n)
}
