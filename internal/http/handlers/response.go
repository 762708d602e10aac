// Package handlers implements the HTTP endpoints: the admin API
// (token, notifications, initiations), the bot messaging endpoint and the
// Power Automate endpoints.
//
// Admin and Power Automate endpoints answer with the envelope
//
//	{"status": {"code": 200, "message": "OK"}, "data": {...}}
//
// where the HTTP status always equals status.code. Routing fallbacks use
// ErrorResponse instead.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/http/middleware"
)

// ErrorResponse is the body of routing fallbacks (404/405) and middleware
// rejections.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"route not found"`
}

// Status is the status block of the admin envelope.
type Status struct {
	Code    int    `json:"code" example:"200"`
	Message string `json:"message" example:"OK"`
}

// Envelope is the admin API response body.
type Envelope struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// fail aborts with an ErrorResponse. 5xx are logged with the request logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// respond writes a 200 envelope carrying data (omitted when nil).
func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Status: Status{Code: http.StatusOK, Message: "OK"}, Data: data})
}

// reject aborts with an envelope whose status mirrors the HTTP status.
// Server errors are logged together with err.
func reject(c *gin.Context, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().Err(err).Int("status", status).Msg(msg)
	} else if err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Int("status", status).Msg(msg)
	}
	c.AbortWithStatusJSON(status, Envelope{Status: Status{Code: status, Message: msg}})
}
