package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/http/middleware"
	"github.com/tbourn/notify-bot/internal/services"
)

// HeaderIdempotencyReplayed marks a response served from an earlier request
// with the same Idempotency-Key.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// NotificationRequest is the body of POST /notification. Id, tenant and
// timestamp are assigned by the server.
type NotificationRequest struct {
	MessageID   string                  `json:"messageId,omitempty"`
	Destination string                  `json:"destination" binding:"required" example:"19:abc@thread.tacv2"`
	Subject     string                  `json:"subject,omitempty" example:"Disk usage"`
	Message     string                  `json:"message,omitempty" example:"Volume /data is 91% full"`
	Title       string                  `json:"title,omitempty"`
	URL         *domain.NotificationURL `json:"url,omitempty"`
	Acknowledge bool                    `json:"acknowledge"`
}

func (r NotificationRequest) notification() domain.Notification {
	return domain.Notification{
		MessageID:   r.MessageID,
		Destination: r.Destination,
		Subject:     r.Subject,
		Message:     r.Message,
		Title:       r.Title,
		URL:         r.URL,
		Acknowledge: r.Acknowledge,
	}
}

// NotificationCreated is the data of a successful POST /notification.
type NotificationCreated struct {
	NotificationID string `json:"notificationId" example:"0b9e3c1e-6f1e-4a43-9d3c-4f6f5d0b2a11"`
}

// Paging carries the token of the next page.
type Paging struct {
	Token string `json:"token"`
}

// InitiationsData is the data of GET /initiations/{id}.
type InitiationsData struct {
	Initiators []services.InitiatorView `json:"initiators"`
	Paging     *Paging                  `json:"paging,omitempty"`
}

// PostNotification godoc
// @ID          postNotification
// @Summary     Post a notification card into a conversation
// @Description Replays the first result while an Idempotency-Key is live.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                          false  "Key for safe retries"
// @Param       body             body    handlers.NotificationRequest    true   "Notification"
// @Success     200  {object}  handlers.Envelope{data=handlers.NotificationCreated}
// @Failure     400  {object}  handlers.Envelope  "Bad data structure"
// @Failure     403  {object}  handlers.Envelope
// @Failure     404  {object}  handlers.Envelope  "Conversation not found"
// @Failure     409  {object}  handlers.Envelope  "Request in progress"
// @Failure     500  {object}  handlers.Envelope
// @Router      /api/v1/notification [post]
func (h *Handlers) PostNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, "Bad data structure", err)
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	id, replayed, err := h.notifications.PostOnce(c.Request.Context(), middleware.IdempotencyScope(c), key, req.notification())
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		reject(c, http.StatusNotFound, "Conversation not found", err)
		return
	case errors.Is(err, services.ErrInvalidNotification):
		reject(c, http.StatusBadRequest, "Bad data structure", err)
		return
	case errors.Is(err, services.ErrRequestInProgress):
		reject(c, http.StatusConflict, "Request in progress", err)
		return
	case err != nil:
		reject(c, http.StatusInternalServerError, "Server Error", err)
		return
	}
	if replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	respond(c, NotificationCreated{NotificationID: id})
}

// GetNotification godoc
// @ID          getNotification
// @Summary     Delivery status and acknowledgements of a notification
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Notification id"
// @Success     200  {object}  handlers.Envelope{data=services.NotificationStatus}
// @Failure     403  {object}  handlers.Envelope
// @Failure     404  {object}  handlers.Envelope
// @Router      /api/v1/notification/{id} [get]
func (h *Handlers) GetNotification(c *gin.Context) {
	st, err := h.notifications.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrNotificationNotFound):
		reject(c, http.StatusNotFound, "Not Found", err)
		return
	case err != nil:
		reject(c, http.StatusInternalServerError, "Server Error", err)
		return
	}
	respond(c, st)
}

// GetInitiations godoc
// @ID          getInitiations
// @Summary     Users who opened a notification, paged
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       id     path      string  true   "Notification id"
// @Param       token  query     string  false  "paging.token of the previous page"
// @Success     200    {object}  handlers.Envelope{data=handlers.InitiationsData}
// @Failure     400    {object}  handlers.Envelope
// @Failure     403    {object}  handlers.Envelope
// @Router      /api/v1/initiations/{id} [get]
func (h *Handlers) GetInitiations(c *gin.Context) {
	page, err := h.notifications.Initiations(c.Request.Context(), c.Param("id"), c.Query("token"))
	switch {
	case errors.Is(err, services.ErrInvalidPageToken):
		reject(c, http.StatusBadRequest, "Bad Request", err)
		return
	case err != nil:
		reject(c, http.StatusInternalServerError, "Server Error", err)
		return
	}
	data := InitiationsData{Initiators: page.Initiators}
	if page.NextToken != "" {
		data.Paging = &Paging{Token: page.NextToken}
	}
	respond(c, data)
}
