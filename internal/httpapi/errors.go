package httpapi

import (
	"errors"
	"net/http"

	"call-signaling/internal/calls"
	"call-signaling/internal/identity"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	kindInvalidRequest  = "invalid_request"
	kindUnauthenticated = "unauthenticated"
	kindInternal        = "internal"
)

var statusByKind = map[string]int{
	kindInvalidRequest:        http.StatusBadRequest,
	"invalid_participants":    http.StatusBadRequest,
	"invalid_transition":      http.StatusBadRequest,
	kindUnauthenticated:       http.StatusUnauthorized,
	"unauthorized":            http.StatusForbidden,
	"not_found":               http.StatusNotFound,
	"conflict":                http.StatusConflict,
	"could_not_allocate_room": http.StatusServiceUnavailable,
	kindInternal:              http.StatusInternalServerError,
}

var messageByKind = map[string]string{
	"invalid_participants":    "You cannot call yourself",
	"invalid_transition":      "Call is not in a state that allows this action",
	"unauthorized":            "Unauthorized",
	"not_found":               "Not found",
	"conflict":                "Call was modified concurrently, retry",
	"could_not_allocate_room": "Could not allocate a room, retry later",
	kindInternal:              "Internal error",
}

// errorKind extends calls.Kind with the directory's errors.
func errorKind(err error) string {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return "not_found"
	case errors.Is(err, identity.ErrInvalidArgument):
		return kindInvalidRequest
	default:
		return calls.Kind(err)
	}
}

func abortError(c *gin.Context, kind, message string) {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": kind, "message": message})
}

// writeError maps a service error to the response. Internal errors are
// logged; their text never reaches the client.
func writeError(c *gin.Context, err error) {
	kind := errorKind(err)
	msg := messageByKind[kind]
	switch kind {
	case kindInternal:
		logger.FromGin(c).Error("request failed", "err", err)
	case kindInvalidRequest:
		msg = err.Error()
	}
	abortError(c, kind, msg)
}

func badRequest(c *gin.Context, msg string) {
	abortError(c, kindInvalidRequest, msg)
}
