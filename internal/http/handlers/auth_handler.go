package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/http/middleware"
)

// AuthRequest holds admin credentials.
type AuthRequest struct {
	Login    string `json:"login" binding:"required" example:"admin"`
	Password string `json:"password" binding:"required" example:"s3cret"`
}

// PostAuth godoc
// @ID          postAuth
// @Summary     Exchange admin credentials for a bearer token
// @Description Any failure (malformed body, wrong credentials, key service
// @Description errors) yields the same 403 so that callers cannot tell which
// @Description part was wrong.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.AuthRequest  true  "Credentials"
// @Success     200   {object}  handlers.Envelope{data=auth.Token}
// @Failure     403   {object}  handlers.Envelope
// @Failure     415   {object}  handlers.Envelope
// @Router      /api/v1/auth [post]
func (h *Handlers) PostAuth(c *gin.Context) {
	if c.ContentType() != gin.MIMEJSON {
		reject(c, http.StatusUnsupportedMediaType, "Unsupported Media Type", nil)
		return
	}
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusForbidden, "Forbidden", err)
		return
	}
	tok, err := h.tokens.Authenticate(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("authenticate")
	}
	if tok == nil {
		reject(c, http.StatusForbidden, "Forbidden", nil)
		return
	}
	respond(c, tok)
}
