package httpapi

import (
	"context"
	"net/http"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/identity"
	"call-signaling/internal/rtc"

	"github.com/gin-gonic/gin"
)

// Surface selects how a call route answers: web clients get a join URL,
// mobile clients get RTC credentials inline.
type Surface int

const (
	SurfaceWeb Surface = iota
	SurfaceMobile
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls     *calls.Service
	Directory identity.Directory
	RTC       rtc.CredentialProvider
}

// ClientIP carries the resolved client address into the request context for
// audit records.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// RegisterCallRoutes mounts the call routes shared by both surfaces on g.
// Device routes exist on mobile only.
func RegisterCallRoutes(g *gin.RouterGroup, h Handlers, s Surface) {
	g.POST("/initiate", h.Initiate(s))
	g.POST("/:call_id/accept", h.Accept(s))
	g.POST("/:call_id/reject", h.Reject)
	g.POST("/:call_id/end", h.End)
	g.GET("/:call_id/details", h.Details)
	g.GET("/:call_id/timeline", h.Timeline)
	g.POST("/generate-token", h.GenerateToken)
	g.GET("/active-calls", h.ActiveCalls)
	g.GET("/call-history", h.CallHistory)
	g.GET("/user/:user_id/availability", h.Availability)

	if s == SurfaceMobile {
		g.POST("/register-device", h.RegisterDevice)
		g.POST("/update-online-status", h.UpdateOnlineStatus)
	}
}

// currentUser returns the authenticated user id or aborts with 401.
func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		abortError(c, kindUnauthenticated, "authentication required")
		return "", false
	}
	return uid, true
}

// credentials issues RTC credentials for userID in roomID.
func (h Handlers) credentials(ctx context.Context, roomID, userID string) (rtc.Credentials, error) {
	name := ""
	if u, err := h.Directory.FindByID(ctx, userID); err == nil {
		name = u.Name
	}
	return h.RTC.IssueRoomCredentials(roomID, userID, name)
}

func (h Handlers) Initiate(s Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUser(c)
		if !ok {
			return
		}
		var req initiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "receiver_id and call_type (audio|video) are required")
			return
		}

		call, err := h.Calls.Initiate(c.Request.Context(), calls.InitiateRequest{
			CallerID:   uid,
			ReceiverID: string(req.ReceiverID),
			Type:       calls.CallType(req.CallType),
			Metadata:   req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		if s == SurfaceWeb {
			c.JSON(http.StatusOK, gin.H{
				"success":  true,
				"call":     call,
				"room_url": h.RTC.JoinURL(call.RoomID, string(call.Type), call.ReceiverID),
			})
			return
		}
		creds, err := h.credentials(c.Request.Context(), call.RoomID, uid)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"call":            call,
			"room_id":         call.RoomID,
			"rtc_credentials": creds,
		})
	}
}

func (h Handlers) Accept(s Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUser(c)
		if !ok {
			return
		}
		call, err := h.Calls.Accept(c.Request.Context(), c.Param("call_id"), uid)
		if err != nil {
			writeError(c, err)
			return
		}

		if s == SurfaceWeb {
			c.JSON(http.StatusOK, gin.H{
				"success":  true,
				"call":     call,
				"room_url": h.RTC.JoinURL(call.RoomID, string(call.Type), call.CallerID),
			})
			return
		}
		creds, err := h.credentials(c.Request.Context(), call.RoomID, uid)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "call": call, "rtc_credentials": creds})
	}
}

func (h Handlers) Reject(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.Calls.Reject(c.Request.Context(), c.Param("call_id"), uid); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Call rejected"})
}

func (h Handlers) End(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	res, err := h.Calls.End(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Call ended"
	if res.AlreadyEnded {
		msg = "Call already ended"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "duration": res.Call.Duration})
}

func (h Handlers) Details(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	call, err := h.Calls.Details(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": call})
}

func (h Handlers) Timeline(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	events, err := h.Calls.Timeline(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

// GenerateToken issues fresh RTC credentials for a room the caller takes
// part in.
func (h Handlers) GenerateToken(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req generateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "room_id is required")
		return
	}
	call, err := h.Calls.AuthorizeRoom(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	creds, err := h.credentials(c.Request.Context(), call.RoomID, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rtc_credentials": creds})
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	active, err := h.Calls.ActiveCalls(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active_calls": active})
}

func (h Handlers) CallHistory(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "page and per_page must be positive integers")
		return
	}
	page, err := h.Calls.History(c.Request.Context(), uid, calls.Page{Page: q.Page, PerPage: q.PerPage})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call_history": page})
}

func (h Handlers) Availability(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	a, err := h.Calls.Availability(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": availabilityUser{
			ID:       a.User.ID,
			Name:     a.User.Name,
			IsOnline: a.User.IsOnline,
			LastSeen: lastSeen(a.User),
		},
		"is_available":    a.IsAvailable,
		"has_active_call": a.HasActiveCall,
	})
}

func (h Handlers) RegisterDevice(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "device_token is required")
		return
	}
	platform := req.platform()
	if !platform.Valid() {
		badRequest(c, "platform must be one of ios, android, web")
		return
	}
	u, err := h.Directory.SetPushAddress(c.Request.Context(), uid, req.DeviceToken, platform)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device registered successfully",
		"user": userSummary{
			ID:             u.ID,
			Name:           u.Name,
			Email:          u.Email,
			DevicePlatform: u.Platform,
			IsOnline:       u.IsOnline,
		},
	})
}

func (h Handlers) UpdateOnlineStatus(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req onlineStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "is_online is required")
		return
	}
	u, err := h.Directory.SetOnlineStatus(c.Request.Context(), uid, *req.IsOnline)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "is_online": u.IsOnline, "last_seen": lastSeen(u)})
}
