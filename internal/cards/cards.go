// Package cards builds the adaptive cards the bot posts into conversations.
//
// A notification card is laid out as
//
//	title
//	Subject: / Message: facts, when set
//	[Open Notification]   opens the task module (task/fetch)
//	[Open in Browser]     plain link
//	[Acknowledge]  or  Acknowledged: <name>
//
// Buttons posting back to the bot carry an "mx" object naming the action and
// the notification; the bot package decodes it.
package cards

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tbourn/notify-bot/internal/domain"
)

const (
	schemaURL = "http://adaptivecards.io/schemas/adaptive-card.json"
	version   = "1.5"

	defaultTitle       = "You got a new notification!"
	defaultOpenTitle   = "Open Notification"
	openInBrowserTitle = "Open in Browser"
	acknowledgeTitle   = "Acknowledge"
)

// Action types carried in the "mx" object of submit data.
const (
	TypeAcknowledge      = "acknowledge"
	TypeTaskNotification = "task/notification"
	TypeTaskDefault      = "task/default"
)

// Card is an adaptive card document.
type Card struct {
	Type    string    `json:"type"`
	Schema  string    `json:"$schema"`
	Version string    `json:"version"`
	Body    []Element `json:"body"`
}

// Element is one body element. Only the fields a given element type uses are
// set.
type Element struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Size    string    `json:"size,omitempty"`
	Weight  string    `json:"weight,omitempty"`
	Wrap    bool      `json:"wrap,omitempty"`
	Facts   []Fact    `json:"facts,omitempty"`
	Actions []Action  `json:"actions,omitempty"`
	Items   []Element `json:"items,omitempty"`
}

// Fact is a title/value row of a FactSet.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Action is an Action.Submit or Action.OpenUrl.
type Action struct {
	Type  string      `json:"type"`
	Title string      `json:"title"`
	URL   string      `json:"url,omitempty"`
	Data  *SubmitData `json:"data,omitempty"`
}

// SubmitData is posted back to the bot when a submit action is clicked.
type SubmitData struct {
	MSTeams *MSTeamsData `json:"msteams,omitempty"`
	MX      MX           `json:"mx"`
}

// MSTeamsData asks Teams to route the submit as an invoke.
type MSTeamsData struct {
	Type string `json:"type"`
}

// MX identifies the bot action a card button triggers.
type MX struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
}

// Notification renders n. While ackedBy is empty and n asks for an
// acknowledgement, the card carries an Acknowledge button; once ackedBy is
// set the button is replaced by an "Acknowledged:" fact.
func Notification(n domain.Notification, ackedBy string) Card {
	title := n.Title
	if title == "" {
		title = defaultTitle
	}
	body := []Element{{Type: "TextBlock", Size: "Medium", Weight: "Bolder", Text: title}}

	if n.Subject != "" {
		body = append(body, factSet("Subject:", n.Subject))
	}
	if n.Message != "" {
		body = append(body, factSet("Message:", n.Message))
	}

	// The task module needs the id to look the notification up again.
	if n.URL != nil && n.ID != "" {
		openTitle := n.URL.Title
		if openTitle == "" {
			openTitle = defaultOpenTitle
		}
		body = append(body,
			Element{Type: "ActionSet", Actions: []Action{{
				Type:  "Action.Submit",
				Title: openTitle,
				Data: &SubmitData{
					MSTeams: &MSTeamsData{Type: "task/fetch"},
					MX:      MX{Type: TypeTaskNotification, NotificationID: n.ID},
				},
			}}},
			Element{Type: "Container", Items: []Element{{
				Type:    "ActionSet",
				Actions: []Action{{Type: "Action.OpenUrl", Title: openInBrowserTitle, URL: n.URL.Link}},
			}}},
		)
	}

	switch {
	case ackedBy != "":
		body = append(body, factSet("Acknowledged:", ackedBy))
	case n.Acknowledge:
		body = append(body, Element{Type: "ActionSet", Actions: []Action{{
			Type:  "Action.Submit",
			Title: acknowledgeTitle,
			Data:  &SubmitData{MX: MX{Type: TypeAcknowledge, NotificationID: n.ID}},
		}}})
	}

	return Card{Type: "AdaptiveCard", Schema: schemaURL, Version: version, Body: body}
}

func factSet(title, value string) Element {
	return Element{Type: "FactSet", Facts: []Fact{{Title: title, Value: value}}}
}

//go:embed default_card.json
var defaultCardJSON []byte

// Portal returns the default portal card with its text and button title
// replaced by the localized strings.
func Portal(text, buttonTitle string) (Card, error) {
	var c Card
	if err := json.Unmarshal(defaultCardJSON, &c); err != nil {
		return Card{}, fmt.Errorf("cards: decode default card: %w", err)
	}
	if len(c.Body) < 2 || len(c.Body[0].Items) == 0 ||
		len(c.Body[1].Items) == 0 || len(c.Body[1].Items[0].Actions) == 0 {
		return Card{}, fmt.Errorf("cards: default card has unexpected layout")
	}
	c.Body[0].Items[0].Text = text
	c.Body[1].Items[0].Actions[0].Title = buttonTitle
	return c, nil
}

// Parse decodes a card supplied by an API caller either as a JSON object or
// as a string holding one.
func Parse(raw json.RawMessage) (any, error) {
	// Flows often send the card as a JSON string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var card map[string]any
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("cards: invalid card: %w", err)
	}
	return card, nil
}
