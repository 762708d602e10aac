package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/http/middleware"
)

// PostMessages godoc
// @ID          postMessages
// @Summary     Bot Framework messaging endpoint
// @Description Receives channel activities. Invoke activities are answered
// @Description synchronously with the invoke response body.
// @Tags        Bot
// @Accept      json
// @Produce     json
// @Param       Authorization  header  string              false  "Channel JWT"
// @Param       body           body    connector.Activity  true   "Activity"
// @Success     200
// @Failure     400
// @Failure     401
// @Failure     415
// @Router      /api/v1/messages [post]
func (h *Handlers) PostMessages(c *gin.Context) {
	if c.ContentType() != gin.MIMEJSON {
		c.AbortWithStatus(http.StatusUnsupportedMediaType)
		return
	}
	var a connector.Activity
	if err := c.ShouldBindJSON(&a); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	if err := h.channelAuth.Authenticate(ctx, c.GetHeader("Authorization"), a.ServiceURL); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("channel", a.ChannelID).Msg("activity rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	resp := h.bot.ProcessActivity(ctx, &a)
	switch {
	case resp == nil:
		c.Status(http.StatusOK)
	case resp.Body == nil:
		c.Status(resp.Status)
	default:
		c.JSON(resp.Status, resp.Body)
	}
}

// HealthCheck godoc
// @ID       healthCheck
// @Summary  Liveness of the API process
// @Tags     Bot
// @Produce  json
// @Success  200  {object}  handlers.Envelope
// @Router   /api/v1/health-check [get]
func (h *Handlers) HealthCheck(c *gin.Context) {
	middleware.LoggerFrom(c).Debug().Msg("health check")
	respond(c, nil)
}
