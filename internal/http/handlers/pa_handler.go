package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/services"
)

// PAMessageSent is the data of a successful POST /message.
type PAMessageSent struct {
	ActivityID string `json:"activityId,omitempty"`
}

// PostPAMessage godoc
// @ID          postPAMessage
// @Summary     Relay a Power Automate message into a conversation
// @Tags        PowerAutomate
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      services.PAMessage  true  "Message; card may be an object or a JSON string"
// @Success     200   {object}  handlers.Envelope{data=handlers.PAMessageSent}
// @Failure     400   {object}  handlers.Envelope
// @Failure     403   {object}  handlers.Envelope
// @Failure     404   {object}  handlers.Envelope
// @Failure     500   {object}  handlers.Envelope
// @Router      /api/pa/v1/message [post]
func (h *Handlers) PostPAMessage(c *gin.Context) {
	var m services.PAMessage
	if err := c.ShouldBindJSON(&m); err != nil {
		reject(c, http.StatusBadRequest, "Bad Request", err)
		return
	}
	id, err := h.messages.Send(c.Request.Context(), m)
	switch {
	case errors.Is(err, services.ErrInvalidMessage):
		reject(c, http.StatusBadRequest, "Bad Request", err)
		return
	case errors.Is(err, services.ErrConversationNotFound):
		reject(c, http.StatusNotFound, "Conversation not found", err)
		return
	case err != nil:
		reject(c, http.StatusInternalServerError, "Server Error", err)
		return
	}
	respond(c, PAMessageSent{ActivityID: id})
}

// PostPAAuthorize godoc
// @ID          postPAAuthorize
// @Summary     Check a Power Automate connection
// @Description Succeeds when the bearer token is valid and the body is a
// @Description non-null JSON document.
// @Tags        PowerAutomate
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.Envelope
// @Failure     400  {object}  handlers.Envelope
// @Failure     403  {object}  handlers.Envelope
// @Router      /api/pa/v1/authorize [post]
func (h *Handlers) PostPAAuthorize(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		reject(c, http.StatusBadRequest, "Bad Request", err)
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		reject(c, http.StatusBadRequest, "Bad Request", err)
		return
	}
	respond(c, nil)
}
