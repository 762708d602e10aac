// Package domain defines the records persisted by the bot: conversation
// references, notifications, acknowledgements, initiations and flows. Records
// are stored as camelCase JSON documents, one container per record kind, and
// every record carries the field its container is partitioned by.
package domain

// Account identifies a participant of a conversation (a user or the bot).
//
// Name may be empty: the chat platform does not always send display names.
// AADObjectID is empty for bots.
type Account struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationAccount identifies a conversation and the tenant that owns it.
type ConversationAccount struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	ConversationType string         `json:"conversationType,omitempty"`
	IsGroup          *bool          `json:"isGroup,omitempty"`
	Name             string         `json:"name,omitempty"`
	AADObjectID      string         `json:"aadObjectId,omitempty"`
	Role             string         `json:"role,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
}

// ConversationReference holds the routing data needed to proactively resume
// sending into a previously seen conversation. The record id is the
// conversation id; records are partitioned by /conversation/tenantId.
type ConversationReference struct {
	ID           string              `json:"id"`
	ActivityID   string              `json:"activityId,omitempty"`
	User         *Account            `json:"user,omitempty"`
	Bot          *Account            `json:"bot,omitempty"`
	Conversation ConversationAccount `json:"conversation"`
	ChannelID    string              `json:"channelId"`
	ServiceURL   string              `json:"serviceUrl"`
	Locale       string              `json:"locale,omitempty"`
}

// Routable reports whether the reference carries every field required to
// deliver a message into the conversation.
func (r ConversationReference) Routable() bool {
	return r.Conversation.ID != "" && r.Conversation.TenantID != "" &&
		r.ChannelID != "" && r.ServiceURL != ""
}

// NotificationURL is the optional deep link attached to a notification.
type NotificationURL struct {
	Title string `json:"title,omitempty"`
	Link  string `json:"link,omitempty"`
}

// Notification is a message targeted at a destination conversation. Id,
// tenant and timestamp are assigned by the server when the record is created
// and never change afterwards. Records are partitioned by /tenantId.
type Notification struct {
	ID          string           `json:"id"`
	MessageID   string           `json:"messageId,omitempty"`
	Destination string           `json:"destination"`
	Subject     string           `json:"subject,omitempty"`
	Message     string           `json:"message,omitempty"`
	Title       string           `json:"title,omitempty"`
	URL         *NotificationURL `json:"url,omitempty"`
	Acknowledge bool             `json:"acknowledge"`
	TenantID    string           `json:"tenantId"`
	Timestamp   int64            `json:"timestamp"` // unix milliseconds
}

// Link returns the notification deep link or "" when none was supplied.
func (n Notification) Link() string {
	if n.URL == nil {
		return ""
	}
	return n.URL.Link
}

// Acknowledgement records that a user confirmed a notification. Its id is the
// notification id, so at most one acknowledgement exists per notification.
// Records are partitioned by /notificationId.
type Acknowledgement struct {
	ID             string `json:"id"`
	NotificationID string `json:"notificationId"`
	Username       string `json:"username,omitempty"`
	UserAADID      string `json:"userAadId,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Initiation is an append-only audit record of a user opening a
// notification's detail view. Records are partitioned by /notificationId.
type Initiation struct {
	ID             string `json:"id"`
	Initiator      string `json:"initiator"`
	NotificationID string `json:"notificationId"`
	Timestamp      int64  `json:"timestamp"`
}

// Flow binds a chat command to a webhook that handles it. The record id is
// the command; records are partitioned by /tenantId.
type Flow struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Cmd      string `json:"cmd"`
	URL      string `json:"url"`
}
