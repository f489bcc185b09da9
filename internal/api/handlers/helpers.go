package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/gin-gonic/gin"
)

const (
	accountKey   = "account"
	adminNameKey = "admin_name"

	defaultListLimit = 50
	maxListLimit     = 200
)

// statusFor maps an error kind to the HTTP status returned to callers
func statusFor(kind ledgererr.Kind) int {
	switch kind {
	case ledgererr.InvalidRequest, ledgererr.InvalidSwap, ledgererr.SelfJoin,
		ledgererr.InvalidWinner, ledgererr.TimeoutNotReached, ledgererr.InsufficientFunds:
		return http.StatusBadRequest
	case ledgererr.NotCreator, ledgererr.NotAPlayer:
		return http.StatusForbidden
	case ledgererr.NotFound:
		return http.StatusNotFound
	case ledgererr.InvalidTransition, ledgererr.GameNotJoinable, ledgererr.GameNotActive,
		ledgererr.GameNotCancellable, ledgererr.Contention:
		return http.StatusConflict
	case ledgererr.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON error body with the status of its kind
func respondError(c *gin.Context, err error) {
	var lerr *ledgererr.Error
	if !errors.As(err, &lerr) {
		log.Printf("[API] %s %s: unexpected error: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := statusFor(lerr.Kind)
	body := gin.H{"error": string(lerr.Kind), "message": lerr.Message}
	if len(lerr.Reasons) > 0 {
		body["reasons"] = lerr.Reasons
	}
	if lerr.Kind == ledgererr.TimeoutNotReached {
		body["remaining_seconds"] = lerr.RemainingSeconds()
	}
	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

// badRequest reports a malformed body or query
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(ledgererr.InvalidRequest), "message": msg})
}

// accountOf returns the authenticated account set by AuthMiddleware
func accountOf(c *gin.Context) string {
	return c.GetString(accountKey)
}

// queryLimit parses ?limit= clamped to [1, maxListLimit]
func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
