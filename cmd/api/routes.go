package main

import (
	"context"

	"call-signaling/internal/app"
	"call-signaling/internal/auth"
	"call-signaling/internal/broadcast"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(base context.Context, r *gin.Engine, a *app.App, m *auth.Manager) {
	// public
	r.GET("/healthz", httpapi.Healthz)
	checks := make(map[string]httpapi.Check)
	for name, fn := range a.Checks() {
		checks[name] = fn
	}
	r.GET("/readyz", httpapi.Readyz(checks))
	if a.Metrics != nil {
		r.GET("/metrics", gin.WrapH(telemetry.Handler(a.Registry)))
	}

	v1 := r.Group("/v1")

	// Token issuance stands in for a real login outside production.
	if !a.Config.IsProduction() {
		v1.POST("/auth/token", httpapi.IssueToken(m, a.Directory))
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(m), httpapi.ClientIP())
	{
		h := httpapi.Handlers{Calls: a.Calls, Directory: a.Directory, RTC: a.RTC}
		httpapi.RegisterCallRoutes(protected.Group("/call"), h, httpapi.SurfaceWeb)
		httpapi.RegisterCallRoutes(protected.Group("/mobile/call"), h, httpapi.SurfaceMobile)

		if a.Bus != nil {
			gw := broadcast.NewGateway(a.Bus, nil, a.Log.With("component", "realtime"))
			protected.GET("/realtime", httpapi.Realtime(gw, base))
		}
	}
}
