package httpapi

import (
	"context"
	"net/http"
	"time"

	"call-signaling/internal/auth"
	"call-signaling/internal/identity"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Check is one readiness probe (database, broadcast transport).
type Check func(ctx context.Context) error

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every check with a short deadline; any failure is a 503.
func Readyz(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "check", name, "err", err)
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "up"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

// IssueToken hands out a token pair for an existing directory user. It
// stands in for a real login and is mounted outside production only.
//
// NOTE: no credential is checked.
func IssueToken(m *auth.Manager, dir identity.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "user_id is required")
			return
		}
		u, err := dir.FindByID(c.Request.Context(), string(req.UserID))
		if err != nil {
			writeError(c, err)
			return
		}
		pair, err := m.IssuePair(time.Now(), u.ID)
		if err != nil {
			logger.FromGin(c).Error("token issuance failed", "err", err)
			abortError(c, kindInternal, "token issuance failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user_id": u.ID, "tokens": pair})
	}
}
