package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestFromFallsBackToDefault(t *testing.T) {
	require.Same(t, slog.Default(), From(context.Background()))

	l := Discard()
	require.Same(t, l, From(With(context.Background(), l)))
	require.NotNil(t, OrDiscard(nil))
	require.Same(t, l, OrDiscard(l))
}

func TestMiddleware_RequestIDAndScopedLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(base))
	r.GET("/ping", func(c *gin.Context) {
		c.Set("user_id", "7")
		FromGin(c).Info("inside")
		From(c.Request.Context()).Info("from context")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "rid-1", w.Header().Get(HeaderRequestID))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		require.Equal(t, "rid-1", rec["request_id"])
	}

	var summary map[string]any
	require.NoError(t, json.Unmarshal(lines[2], &summary))
	require.Equal(t, "request", summary["msg"])
	require.Equal(t, "/ping", summary["path"])
	require.EqualValues(t, http.StatusNoContent, summary["status"])
	require.Equal(t, "7", summary["user_id"])
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, w.Header().Get(HeaderRequestID), 36)
}
