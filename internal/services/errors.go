// Package services implements the admin API operations on top of the
// repository and the connector: posting notifications into stored
// conversations, reporting their acknowledgement state and initiators, and
// relaying Power Automate messages.
//
// Predictable failures are returned as the sentinel errors below so that
// handlers can map them to HTTP results consistently.
package services

import "errors"

var (
	// ErrConversationNotFound indicates that no conversation reference is
	// stored for the requested destination.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotificationNotFound indicates that the notification does not exist
	// in the configured tenant.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidNotification is returned when a notification request fails
	// validation (e.g. it has no destination).
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrInvalidMessage is returned when a relayed message has no target
	// conversation or carries neither text nor a card.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidPageToken is returned for a paging token that was not issued
	// by this service for the requested notification.
	ErrInvalidPageToken = errors.New("invalid page token")

	// ErrRequestInProgress is returned when another request holding the same
	// idempotency key has not finished yet.
	ErrRequestInProgress = errors.New("request in progress")
)
