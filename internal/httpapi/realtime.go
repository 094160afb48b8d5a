package httpapi

import (
	"context"

	"call-signaling/internal/broadcast"

	"github.com/gin-gonic/gin"
)

// Realtime streams the authenticated user's own channel over a websocket.
// Streams end when the client leaves or base is canceled (server shutdown).
func Realtime(gw *broadcast.Gateway, base context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUser(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		if base != nil {
			stop := context.AfterFunc(base, cancel)
			defer stop()
		}
		gw.Serve(ctx, c.Writer, c.Request, uid)
	}
}
