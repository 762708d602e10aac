package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMessageService_Send(t *testing.T) {
	sender := &fakeSender{}
	svc := &MessageService{Repo: newTestRepo(t), Sender: sender}
	ctx := context.Background()

	card := `{"type":"AdaptiveCard","version":"1.5","body":[]}`
	asString, _ := json.Marshal(card)

	cases := []struct {
		name     string
		msg      PAMessage
		wantText string
		wantCard bool
	}{
		{"text", PAMessage{ConversationID: testConv, TenantID: testTenant, Text: "hello"}, "hello", false},
		{"card object", PAMessage{ConversationID: testConv, Card: json.RawMessage(card)}, "", true},
		{"card string", PAMessage{ConversationID: testConv, Card: asString, Text: "see card"}, "see card", true},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Send(ctx, tc.msg); err != nil {
				t.Fatalf("Send: %v", err)
			}
			got := sender.sent[i]
			if got.Text != tc.wantText || (len(got.Attachments) == 1) != tc.wantCard {
				t.Fatalf("activity = %+v", got)
			}
		})
	}
}

// Invalid messages and unknown conversations are rejected before any delivery.
func TestMessageService_Send_Errors(t *testing.T) {
	sender := &fakeSender{}
	svc := &MessageService{Repo: newTestRepo(t), Sender: sender}
	ctx := context.Background()

	cases := map[string]struct {
		msg  PAMessage
		want error
	}{
		"no conversation": {PAMessage{Text: "x"}, ErrInvalidMessage},
		"empty":           {PAMessage{ConversationID: testConv}, ErrInvalidMessage},
		"null card":       {PAMessage{ConversationID: testConv, Card: json.RawMessage("null")}, ErrInvalidMessage},
		"bad card":        {PAMessage{ConversationID: testConv, Card: json.RawMessage(`"{broken"`)}, ErrInvalidMessage},
		"unknown conv":    {PAMessage{ConversationID: "a:nope", Text: "x"}, ErrConversationNotFound},
		"other tenant":    {PAMessage{ConversationID: testConv, TenantID: "t2", Text: "x"}, ErrConversationNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Send(ctx, tc.msg); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if sender.count() != 0 {
		t.Fatalf("nothing should have been sent")
	}
}
