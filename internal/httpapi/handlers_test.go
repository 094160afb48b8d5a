package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/broadcast"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/identity"
	"call-signaling/internal/notify"
	"call-signaling/internal/rtc"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	router *gin.Engine
	auth   *auth.Manager
	dir    *identity.MemoryDirectory
	bus    *broadcast.MemoryBus
	audit  *audit.MemoryRepo
	tokens map[string]string
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Now().UTC()
	dir := identity.NewMemoryDirectory(
		identity.User{ID: "1", Name: "Alice", IsOnline: true, LastSeen: &now},
		identity.User{ID: "2", Name: "Bob", IsOnline: true},
		identity.User{ID: "3", Name: "Carol"},
	)
	bus := broadcast.NewMemoryBus()
	auditRepo := audit.NewMemoryRepo()
	svc := calls.NewService(calls.NewMemoryRepo(), dir, calls.Options{
		Notifier: notify.New(notify.Options{Broadcast: bus, Directory: dir}),
		Audit:    audit.NewService(auditRepo),
	})
	issuer, err := rtc.NewIssuer(rtc.Config{AppID: "app", ServerSecret: "secret", PublicURL: "https://calls.test"})
	require.NoError(t, err)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "jwt", AccessTokenTTL: time.Hour, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	h := Handlers{Calls: svc, Directory: dir, RTC: issuer}
	r := gin.New()
	r.GET("/healthz", Healthz)
	r.POST("/v1/auth/token", IssueToken(m, dir))
	v1 := r.Group("/v1", auth.RequireAccessToken(m), ClientIP())
	RegisterCallRoutes(v1.Group("/call"), h, SurfaceWeb)
	RegisterCallRoutes(v1.Group("/mobile/call"), h, SurfaceMobile)

	api := &apiHarness{router: r, auth: m, dir: dir, bus: bus, audit: auditRepo, tokens: map[string]string{}}
	for _, id := range []string{"1", "2", "3"} {
		pair, err := m.IssuePair(time.Now(), id)
		require.NoError(t, err)
		api.tokens[id] = pair.AccessToken
	}
	return api
}

// do sends a request as user (empty = anonymous) and decodes the JSON body.
func (a *apiHarness) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (a *apiHarness) initiate(t *testing.T, prefix, caller string, receiver any) map[string]any {
	t.Helper()
	code, body := a.do(t, http.MethodPost, prefix+"/initiate", caller, gin.H{"receiver_id": receiver, "call_type": "video"})
	require.Equal(t, http.StatusOK, code, body)
	return body["call"].(map[string]any)
}

func TestWeb_CallLifecycle(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/call/initiate", "1", gin.H{"receiver_id": 2, "call_type": "video", "metadata": gin.H{"topic": "demo"}})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["success"])
	call := body["call"].(map[string]any)
	require.Equal(t, "initiated", call["status"])
	require.Equal(t, "2", call["receiver_id"])
	require.Equal(t, map[string]any{"topic": "demo"}, call["metadata"])
	require.Contains(t, body["room_url"], "https://calls.test/call/call-page?")
	require.Contains(t, body["room_url"], "chatWith=2")
	id := call["id"].(string)

	code, body = a.do(t, http.MethodPost, "/v1/call/"+id+"/accept", "2", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "accepted", body["call"].(map[string]any)["status"])
	require.Contains(t, body["room_url"], "chatWith=1")

	code, body = a.do(t, http.MethodPost, "/v1/call/"+id+"/end", "1", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "Call ended", body["message"])
	require.Contains(t, body, "duration")

	code, body = a.do(t, http.MethodPost, "/v1/call/"+id+"/end", "2", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "Call already ended", body["message"])

	events := a.bus.Published()
	require.Len(t, events, 3)
	require.Equal(t, "call.initiated", events[0].Event)
	require.Equal(t, "call.accepted", events[1].Event)
	require.Equal(t, "call.ended", events[2].Event)

	trail, err := a.audit.ListByCall(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, "192.0.2.1", trail[0].IPAddress)

	code, body = a.do(t, http.MethodGet, "/v1/call/"+id+"/timeline", "2", nil)
	require.Equal(t, http.StatusOK, code, body)
	timeline := body["events"].([]any)
	require.Len(t, timeline, 3)
	require.Equal(t, "call_ended", timeline[2].(map[string]any)["type"])

	code, body = a.do(t, http.MethodGet, "/v1/mobile/call/"+id+"/timeline", "3", nil)
	require.Equal(t, http.StatusForbidden, code, body)
}

func TestMobile_CredentialsInline(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/mobile/call/initiate", "1", gin.H{"receiver_id": "2", "call_type": "audio"})
	require.Equal(t, http.StatusOK, code, body)
	creds := body["rtc_credentials"].(map[string]any)
	require.Equal(t, "app", creds["app_id"])
	require.Equal(t, "1", creds["user_id"])
	require.Equal(t, "Alice", creds["user_name"])
	require.Equal(t, body["room_id"], creds["room_id"])
	require.NotEmpty(t, creds["token"])
	require.NotContains(t, body, "room_url")
	id := body["call"].(map[string]any)["id"].(string)

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/"+id+"/accept", "2", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "2", body["rtc_credentials"].(map[string]any)["user_id"])

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/generate-token", "1", gin.H{"room_id": body["call"].(map[string]any)["room_id"]})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "1", body["rtc_credentials"].(map[string]any)["user_id"])
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	call := a.initiate(t, "/v1/call", "1", "2")
	id := call["id"].(string)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		kind   string
	}{
		{"anonymous", http.MethodGet, "/v1/call/active-calls", "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"self call", http.MethodPost, "/v1/call/initiate", "1", gin.H{"receiver_id": "1", "call_type": "audio"}, http.StatusBadRequest, "invalid_participants"},
		{"bad call type", http.MethodPost, "/v1/call/initiate", "1", gin.H{"receiver_id": "2", "call_type": "fax"}, http.StatusBadRequest, "invalid_request"},
		{"malformed json", http.MethodPost, "/v1/call/initiate", "1", "{", http.StatusBadRequest, "invalid_request"},
		{"array metadata", http.MethodPost, "/v1/call/initiate", "1", gin.H{"receiver_id": "2", "call_type": "audio", "metadata": []int{1}}, http.StatusBadRequest, "invalid_request"},
		{"unknown receiver", http.MethodPost, "/v1/call/initiate", "1", gin.H{"receiver_id": "404", "call_type": "audio"}, http.StatusNotFound, "not_found"},
		{"caller accepts", http.MethodPost, "/v1/call/" + id + "/accept", "1", nil, http.StatusForbidden, "unauthorized"},
		{"outsider ends", http.MethodPost, "/v1/call/" + id + "/end", "3", nil, http.StatusForbidden, "unauthorized"},
		{"outsider details", http.MethodGet, "/v1/call/" + id + "/details", "3", nil, http.StatusForbidden, "unauthorized"},
		{"missing call", http.MethodPost, "/v1/call/nope/accept", "2", nil, http.StatusNotFound, "not_found"},
		{"outsider token", http.MethodPost, "/v1/call/generate-token", "3", gin.H{"room_id": call["room_id"]}, http.StatusForbidden, "unauthorized"},
		{"unknown room", http.MethodPost, "/v1/call/generate-token", "1", gin.H{"room_id": "room_missing"}, http.StatusNotFound, "not_found"},
		{"bad page", http.MethodGet, "/v1/call/call-history?page=-1", "1", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown availability", http.MethodGet, "/v1/call/user/404/availability", "1", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := a.do(t, tc.method, tc.path, tc.user, tc.body)
			require.Equal(t, tc.status, code, body)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.kind, body["error"])
			require.NotEmpty(t, body["message"])
		})
	}
}

func TestInvalidTransitionAfterReject(t *testing.T) {
	a := newAPI(t)
	id := a.initiate(t, "/v1/mobile/call", "1", "2")["id"].(string)

	code, body := a.do(t, http.MethodPost, "/v1/mobile/call/"+id+"/reject", "2", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "Call rejected", body["message"])

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/"+id+"/accept", "2", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_transition", body["error"])

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/"+id+"/end", "1", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_transition", body["error"])
}

func TestListingAndAvailability(t *testing.T) {
	a := newAPI(t)
	a.initiate(t, "/v1/call", "1", "2")

	code, body := a.do(t, http.MethodGet, "/v1/call/active-calls", "2", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["active_calls"], 1)

	code, body = a.do(t, http.MethodGet, "/v1/call/call-history?per_page=5", "1", nil)
	require.Equal(t, http.StatusOK, code)
	history := body["call_history"].(map[string]any)
	require.EqualValues(t, 1, history["total"])
	require.EqualValues(t, 5, history["per_page"])
	require.EqualValues(t, 1, history["page"])
	require.Len(t, history["data"], 1)

	code, body = a.do(t, http.MethodGet, "/v1/call/user/2/availability", "3", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["is_available"])
	require.Equal(t, true, body["has_active_call"])
	require.Equal(t, "Bob", body["user"].(map[string]any)["name"])
	require.Nil(t, body["user"].(map[string]any)["last_seen"])

	code, body = a.do(t, http.MethodGet, "/v1/mobile/call/user/3/availability", "1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["is_available"], "offline users are unavailable")
	require.Equal(t, false, body["has_active_call"])
}

func TestMobile_DeviceAndPresence(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/mobile/call/register-device", "3", gin.H{"device_token": "tok-3", "platform": "android"})
	require.Equal(t, http.StatusOK, code, body)
	user := body["user"].(map[string]any)
	require.Equal(t, true, user["is_online"])
	require.Equal(t, "android", user["device_platform"])

	u, err := a.dir.FindByID(context.Background(), "3")
	require.NoError(t, err)
	require.True(t, u.HasPushAddress())

	code, _ = a.do(t, http.MethodPost, "/v1/mobile/call/register-device", "3", gin.H{"device_token": "tok", "device_platform": "ios"})
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/register-device", "3", gin.H{"device_token": "tok", "platform": "blackberry"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_request", body["error"])

	code, body = a.do(t, http.MethodPost, "/v1/mobile/call/update-online-status", "3", gin.H{"is_online": false})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, false, body["is_online"])
	require.NotNil(t, body["last_seen"])

	code, _ = a.do(t, http.MethodPost, "/v1/mobile/call/update-online-status", "3", gin.H{})
	require.Equal(t, http.StatusBadRequest, code)

	// Device routes exist on mobile only.
	code, _ = a.do(t, http.MethodPost, "/v1/call/register-device", "3", gin.H{"device_token": "tok", "platform": "ios"})
	require.Equal(t, http.StatusNotFound, code)
}

func TestIssueToken(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": 2})
	require.Equal(t, http.StatusOK, code, body)
	tokens := body["tokens"].(map[string]any)
	claims, err := a.auth.Verify(tokens["access_token"].(string), auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	require.Equal(t, "2", claims.UserID)

	code, body = a.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "999"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", body["error"])
}

func TestHealthAndReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Healthz)
	r.GET("/readyz", Readyz(map[string]Check{
		"db":  func(context.Context) error { return nil },
		"bus": func(context.Context) error { return errors.New("down") },
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"status":"not_ready","checks":{"db":"up","bus":"down"}}`, w.Body.String())
}

func TestUserRef(t *testing.T) {
	var r tokenRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user_id": 42}`), &r))
	require.Equal(t, userRef("42"), r.UserID)
	require.NoError(t, json.Unmarshal([]byte(`{"user_id": "u-7"}`), &r))
	require.Equal(t, userRef("u-7"), r.UserID)
	require.Error(t, json.Unmarshal([]byte(`{"user_id": 1.5}`), &r))
	require.Error(t, json.Unmarshal([]byte(`{"user_id": true}`), &r))
}
