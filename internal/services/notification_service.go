// Package services – NotificationService
//
// This file implements posting notifications and reading back their state.
// Post stores the notification and then sends its card; PostOnce wraps Post
// with an idempotency key reserved in the store before delivery, so retried
// requests replay the first result instead of notifying twice.
//
// Reads combine the notification with its acknowledgements (one page, all
// of them) and its initiations (paged through opaque tokens).
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/notify-bot/internal/cards"
	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/repo"
)

// StatusDelivered is reported for every stored notification: a record only
// exists once it was handed to the channel.
const StatusDelivered = "DELIVERED"

// NotificationRepo is the persistence NotificationService needs.
// Implemented by *repo.Repository.
type NotificationRepo interface {
	// GetConversation loads a stored conversation reference; an empty
	// tenantID means the configured tenant.
	GetConversation(ctx context.Context, conversationID, tenantID string) (domain.ConversationReference, error)

	// CreateNotification stores n under a fresh id and timestamp.
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	// GetNotification fetches a notification by id.
	GetNotification(ctx context.Context, id string) (domain.Notification, error)

	// GetAcknowledgeItems returns every acknowledgement of a notification.
	GetAcknowledgeItems(ctx context.Context, notificationID string) ([]domain.Acknowledgement, error)
	// GetInitiationItems returns one page of initiations plus the store
	// token for the next page.
	GetInitiationItems(ctx context.Context, notificationID, token string) ([]domain.Initiation, string, error)

	// GetIdempotency returns the live record for scope/key or repo.ErrNotFound.
	GetIdempotency(ctx context.Context, scope, key string, now time.Time) (domain.IdempotencyRecord, error)
	// CreateIdempotency inserts a record; repo.ErrDuplicate when the key is taken.
	CreateIdempotency(ctx context.Context, scope, key, notificationID string, status int, ttl time.Duration) (domain.IdempotencyRecord, error)
	// CompleteIdempotency fills in the result of a reserved key.
	CompleteIdempotency(ctx context.Context, scope, key, notificationID string, status int) error
	// DeleteIdempotency drops a reservation.
	DeleteIdempotency(ctx context.Context, scope, key string) error
}

// NotificationService posts notifications into conversations and reports on
// them.
type NotificationService struct {
	// Repo stores notifications, acknowledgements and idempotency keys.
	Repo NotificationRepo
	// Sender delivers the notification card.
	Sender connector.Sender

	// IdempotencyTTL bounds how long a key replays its first result.
	// 24h when zero.
	IdempotencyTTL time.Duration
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// NotificationStatus is the externally visible state of a notification.
type NotificationStatus struct {
	Timestamp    int64             `json:"timestamp"`
	Status       string            `json:"status"`
	Acknowledged []AcknowledgeView `json:"acknowledged"`
}

// AcknowledgeView is one acknowledgement as reported to API callers.
type AcknowledgeView struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// InitiatorView is one initiation as reported to API callers.
type InitiatorView struct {
	Initiator string `json:"initiator"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// InitiationsPage is a page of initiators plus the token for the next page
// ("" when exhausted).
type InitiationsPage struct {
	Initiators []InitiatorView
	NextToken  string
}

// now reads the configured clock.
func (s *NotificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// tracer names spans after the service.
func tracer() trace.Tracer { return otel.Tracer("services/NotificationService") }

// Post validates n, stores it with a server-assigned id and delivers its
// card into the destination conversation. It returns the new id.
func (s *NotificationService) Post(ctx context.Context, n domain.Notification) (string, error) {
	ctx, span := tracer().Start(ctx, "Post",
		trace.WithAttributes(attribute.String("notification.destination", n.Destination)))
	defer span.End()

	n.Destination = strings.TrimSpace(n.Destination)
	if err := validateNotification(n); err != nil {
		return "", err
	}

	// Checked before storing so unknown destinations leave no record.
	ref, err := s.Repo.GetConversation(ctx, n.Destination, "")
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrConversationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	stored, err := s.Repo.CreateNotification(ctx, n)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("notification.id", stored.ID))

	if _, err := s.Sender.SendToConversation(ctx, ref, connector.CardActivity(cards.Notification(stored, ""))); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("deliver notification %s: %w", stored.ID, err)
	}
	return stored.ID, nil
}

// PostOnce is Post guarded by an idempotency key: while the key is live, a
// repeated call returns the id assigned by the first call (replayed=true)
// without delivering again. An empty key behaves like Post.
//
// The key is reserved before delivery, so concurrent calls with the same key
// deliver at most once; the losers get ErrRequestInProgress until the winner
// completes. A failed delivery releases the key.
func (s *NotificationService) PostOnce(ctx context.Context, scope, key string, n domain.Notification) (id string, replayed bool, err error) {
	if key == "" {
		id, err = s.Post(ctx, n)
		return id, false, err
	}

	// Fast path for retries of a completed request.
	rec, err := s.Repo.GetIdempotency(ctx, scope, key, s.now())
	switch {
	case err == nil:
		return replay(rec)
	case !errors.Is(err, repo.ErrNotFound):
		return "", false, err
	}

	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	// Reserve the key. The store lets one create win, so only one caller
	// gets past this point for a given key.
	if _, err := s.Repo.CreateIdempotency(ctx, scope, key, "", 0, ttl); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return "", false, err
		}
		// Released by a failed winner between the create and this read.
		rec, err := s.Repo.GetIdempotency(ctx, scope, key, s.now())
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", false, ErrRequestInProgress
			}
			return "", false, err
		}
		return replay(rec)
	}

	log := zerolog.Ctx(ctx)
	id, err = s.Post(ctx, n)
	if err != nil {
		if derr := s.Repo.DeleteIdempotency(context.WithoutCancel(ctx), scope, key); derr != nil {
			log.Warn().Err(derr).Str("idempotency_scope", scope).Msg("idempotency reservation not released")
		}
		return "", false, err
	}

	if err := s.Repo.CompleteIdempotency(context.WithoutCancel(ctx), scope, key, id, 200); err != nil {
		// The notification is already delivered; a retry after the
		// reservation expires may deliver it again.
		log.Warn().Err(err).Str("notification_id", id).Msg("idempotency key not completed")
	}
	return id, false, nil
}

// replay answers from an existing record.
func replay(rec domain.IdempotencyRecord) (string, bool, error) {
	if rec.Pending() {
		return "", false, ErrRequestInProgress
	}
	return rec.NotificationID, true, nil
}

// validateNotification accepts a missing link but not a relative one.
func validateNotification(n domain.Notification) error {
	if n.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidNotification)
	}
	if n.URL != nil && n.URL.Link != "" {
		u, err := url.Parse(n.URL.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: url.link must be an absolute http(s) URL", ErrInvalidNotification)
		}
	}
	return nil
}

// Get returns the delivery status and acknowledgements of a notification.
func (s *NotificationService) Get(ctx context.Context, id string) (NotificationStatus, error) {
	ctx, span := tracer().Start(ctx, "Get",
		trace.WithAttributes(attribute.String("notification.id", id)))
	defer span.End()

	n, err := s.Repo.GetNotification(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return NotificationStatus{}, ErrNotificationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return NotificationStatus{}, err
	}
	acks, err := s.Repo.GetAcknowledgeItems(ctx, id)
	if err != nil {
		span.RecordError(err)
		return NotificationStatus{}, err
	}

	// Acknowledged is never nil so it encodes as [].
	out := NotificationStatus{
		Timestamp:    n.Timestamp,
		Status:       StatusDelivered,
		Acknowledged: make([]AcknowledgeView, 0, len(acks)),
	}
	for _, a := range acks {
		out.Acknowledged = append(out.Acknowledged, AcknowledgeView{Username: a.Username, Timestamp: a.Timestamp})
	}
	return out, nil
}

// Initiations returns one page of the users who opened a notification.
// pageToken is a token from a previous page or "" for the first one; the
// returned NextToken is opaque to callers.
func (s *NotificationService) Initiations(ctx context.Context, id, pageToken string) (InitiationsPage, error) {
	ctx, span := tracer().Start(ctx, "Initiations",
		trace.WithAttributes(
			attribute.String("notification.id", id),
			attribute.Bool("page.continued", pageToken != ""),
		))
	defer span.End()

	storeToken, err := unwrapPageToken(pageToken)
	if err != nil {
		return InitiationsPage{}, err
	}
	items, next, err := s.Repo.GetInitiationItems(ctx, id, storeToken)
	if errors.Is(err, docstore.ErrInvalidContinuation) {
		return InitiationsPage{}, ErrInvalidPageToken
	}
	if err != nil {
		span.RecordError(err)
		return InitiationsPage{}, err
	}

	page := InitiationsPage{Initiators: make([]InitiatorView, 0, len(items))}
	for _, it := range items {
		page.Initiators = append(page.Initiators, InitiatorView{Initiator: it.Initiator, Timestamp: it.Timestamp, ID: it.ID})
	}
	if next != "" {
		page.NextToken = base64.URLEncoding.EncodeToString([]byte(next))
	}
	return page, nil
}

// Page tokens handed to API callers wrap the store token in padded url-safe
// base64 so they survive query strings unchanged.
func unwrapPageToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return "", ErrInvalidPageToken
	}
	return string(raw), nil
}
