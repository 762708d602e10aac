package cards

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tbourn/notify-bot/internal/domain"
)

func TestNotification_DefaultsAndAcknowledgeButton(t *testing.T) {
	n := domain.Notification{
		ID:          "n1",
		Subject:     "Disk",
		Message:     "Usage at 91%",
		URL:         &domain.NotificationURL{Link: "https://portal.example/n1"},
		Acknowledge: true,
	}
	c := Notification(n, "")

	if c.Type != "AdaptiveCard" || c.Version != "1.5" || c.Schema == "" {
		t.Fatalf("bad envelope: %+v", c)
	}
	if got := c.Body[0].Text; got != defaultTitle {
		t.Fatalf("title = %q", got)
	}
	if len(c.Body) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(c.Body))
	}
	if f := c.Body[1].Facts[0]; f.Title != "Subject:" || f.Value != "Disk" {
		t.Fatalf("subject fact = %+v", f)
	}
	open := c.Body[3].Actions[0]
	if open.Title != defaultOpenTitle || open.Data.MSTeams.Type != "task/fetch" ||
		open.Data.MX.Type != TypeTaskNotification || open.Data.MX.NotificationID != "n1" {
		t.Fatalf("open action = %+v", open)
	}
	browser := c.Body[4].Items[0].Actions[0]
	if browser.Type != "Action.OpenUrl" || browser.URL != "https://portal.example/n1" {
		t.Fatalf("browser action = %+v", browser)
	}
	ack := c.Body[5].Actions[0]
	if ack.Title != acknowledgeTitle || ack.Data.MX.Type != TypeAcknowledge || ack.Data.MSTeams != nil {
		t.Fatalf("ack action = %+v", ack)
	}
}

func TestNotification_AcknowledgedReplacesButton(t *testing.T) {
	n := domain.Notification{ID: "n1", Title: "Heads up", Acknowledge: true}
	c := Notification(n, "Ann")

	if c.Body[0].Text != "Heads up" {
		t.Fatalf("title = %q", c.Body[0].Text)
	}
	last := c.Body[len(c.Body)-1]
	if last.Type != "FactSet" || last.Facts[0].Title != "Acknowledged:" || last.Facts[0].Value != "Ann" {
		t.Fatalf("last element = %+v", last)
	}
	raw, _ := json.Marshal(c)
	if strings.Contains(string(raw), `"acknowledge"`) {
		t.Fatalf("acknowledged card still carries the button: %s", raw)
	}
}

func TestNotification_NoLinkNoAcknowledge(t *testing.T) {
	c := Notification(domain.Notification{ID: "n1", Message: "hi"}, "")
	if len(c.Body) != 2 {
		t.Fatalf("expected title and message only, got %+v", c.Body)
	}
}

func TestPortal(t *testing.T) {
	c, err := Portal("Open the MX portal", "Go")
	if err != nil {
		t.Fatalf("Portal: %v", err)
	}
	if c.Body[0].Items[0].Text != "Open the MX portal" {
		t.Fatalf("text = %q", c.Body[0].Items[0].Text)
	}
	a := c.Body[1].Items[0].Actions[0]
	if a.Title != "Go" || a.Data.MX.Type != TypeTaskDefault {
		t.Fatalf("action = %+v", a)
	}
}

// TestParse accepts a card as an object or a JSON-encoded string and rejects
// anything that is not an object.
func TestParse(t *testing.T) {
	obj := json.RawMessage(`{"type":"AdaptiveCard","body":[]}`)
	str, _ := json.Marshal(string(obj))

	for name, raw := range map[string]json.RawMessage{"object": obj, "string": str} {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if m := got.(map[string]any); m["type"] != "AdaptiveCard" {
				t.Fatalf("got %v", m)
			}
		})
	}

	for _, bad := range []string{`"not json"`, `[1,2]`, `42`} {
		if _, err := Parse(json.RawMessage(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}
