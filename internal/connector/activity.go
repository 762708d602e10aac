// Package connector speaks the Bot Framework connector protocol: the
// activity schema, outbound REST calls to a channel's service URL, and
// verification of the JWTs the channel attaches to inbound activities.
package connector

import (
	"encoding/json"

	"github.com/tbourn/notify-bot/internal/domain"
)

// Activity types.
const (
	ActivityMessage            = "message"
	ActivityConversationUpdate = "conversationUpdate"
	ActivityInvoke             = "invoke"
	ActivityTrace              = "trace"
)

// Channel ids with special handling.
const (
	ChannelMSTeams  = "msteams"
	ChannelEmulator = "emulator"
)

// Activity is a Bot Framework activity. Only the fields the bot reads or
// writes are modelled. ServiceURL is where replies must be posted; Value
// carries card submits and invoke payloads undecoded.
type Activity struct {
	Type         string                      `json:"type"`
	ID           string                      `json:"id,omitempty"`
	Timestamp    string                      `json:"timestamp,omitempty"`
	ServiceURL   string                      `json:"serviceUrl,omitempty"`
	ChannelID    string                      `json:"channelId,omitempty"`
	From         *domain.Account             `json:"from,omitempty"`
	Conversation *domain.ConversationAccount `json:"conversation,omitempty"`
	Recipient    *domain.Account             `json:"recipient,omitempty"`
	Text         string                      `json:"text,omitempty"`
	TextFormat   string                      `json:"textFormat,omitempty"`
	Locale       string                      `json:"locale,omitempty"`
	Name         string                      `json:"name,omitempty"`
	Label        string                      `json:"label,omitempty"`
	ValueType    string                      `json:"valueType,omitempty"`
	Value        json.RawMessage             `json:"value,omitempty"`
	ReplyToID    string                      `json:"replyToId,omitempty"`
	MembersAdded []domain.Account            `json:"membersAdded,omitempty"`
	Attachments  []Attachment                `json:"attachments,omitempty"`
	ChannelData  *ChannelData                `json:"channelData,omitempty"`
}

// Attachment carries a card or file.
type Attachment struct {
	ContentType string `json:"contentType"`
	// Content is the card object on the way out. Inbound it decodes to
	// map[string]any.
	Content any `json:"content,omitempty"`
}

// ChannelData is the Teams-specific part of an activity.
type ChannelData struct {
	Tenant *TenantInfo `json:"tenant,omitempty"`
}

// TenantInfo identifies the Teams tenant an activity came from.
type TenantInfo struct {
	ID string `json:"id"`
}

// ResourceResponse is returned by the connector for created activities.
type ResourceResponse struct {
	ID string `json:"id"`
}

// TenantID returns the tenant of the activity, preferring channel data over
// the conversation.
func (a *Activity) TenantID() string {
	if a.ChannelData != nil && a.ChannelData.Tenant != nil && a.ChannelData.Tenant.ID != "" {
		return a.ChannelData.Tenant.ID
	}
	if a.Conversation != nil {
		return a.Conversation.TenantID
	}
	return ""
}

// Reference captures the routing data of an inbound activity.
func (a *Activity) Reference() domain.ConversationReference {
	ref := domain.ConversationReference{
		ActivityID: a.ID,
		User:       a.From,
		Bot:        a.Recipient,
		ChannelID:  a.ChannelID,
		ServiceURL: a.ServiceURL,
		Locale:     a.Locale,
	}
	// The conversation id doubles as the reference id.
	if a.Conversation != nil {
		ref.ID = a.Conversation.ID
		ref.Conversation = *a.Conversation
		if ref.Conversation.TenantID == "" {
			ref.Conversation.TenantID = a.TenantID()
		}
	}
	return ref
}

// ApplyReference addresses a into the conversation described by ref.
func ApplyReference(a *Activity, ref domain.ConversationReference) {
	// Copies, so the activity never aliases the stored reference.
	conv := ref.Conversation
	a.Conversation = &conv
	a.ChannelID = ref.ChannelID
	a.ServiceURL = ref.ServiceURL
	// The roles swap: the bot speaks, the user receives.
	if ref.Bot != nil {
		bot := *ref.Bot
		a.From = &bot
	}
	if ref.User != nil {
		user := *ref.User
		a.Recipient = &user
	}
	if a.Locale == "" {
		a.Locale = ref.Locale
	}
}

// MessageActivity returns a plain text message.
func MessageActivity(text string) *Activity {
	return &Activity{Type: ActivityMessage, Text: text}
}

// CardActivity returns a message carrying one adaptive card.
func CardActivity(card any) *Activity {
	return &Activity{
		Type: ActivityMessage,
		Attachments: []Attachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content:     card,
		}},
	}
}
