package bot

import (
	"encoding/json"

	"github.com/tbourn/notify-bot/internal/cards"
)

// Action is a card action posted back by the chat client. It is decoded
// once from the activity value; handlers switch over the concrete types.
type Action interface{ isAction() }

// AcknowledgeAction confirms a notification.
type AcknowledgeAction struct{ NotificationID string }

// TaskNotificationAction opens a notification's detail view.
type TaskNotificationAction struct{ NotificationID string }

// TaskDefaultAction opens the default portal view.
type TaskDefaultAction struct{}

// UnknownAction is any other payload, including a missing "mx" object.
type UnknownAction struct{ Type string }

func (AcknowledgeAction) isAction()      {}
func (TaskNotificationAction) isAction() {}
func (TaskDefaultAction) isAction()      {}
func (UnknownAction) isAction()          {}

// mxEnvelope covers both places the mx object is found: the submit value
// itself and the data of a task/fetch invoke.
type mxEnvelope struct {
	MX   *cards.MX `json:"mx"`
	Data *struct {
		MX *cards.MX `json:"mx"`
	} `json:"data"`
}

// DecodeSubmit decodes the action of a message submit, found at value.mx.
func DecodeSubmit(value json.RawMessage) Action {
	var env mxEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return UnknownAction{}
	}
	return toAction(env.MX)
}

// DecodeTaskFetch decodes the action of a task/fetch invoke, found at
// value.data.mx.
func DecodeTaskFetch(value json.RawMessage) Action {
	var env mxEnvelope
	if err := json.Unmarshal(value, &env); err != nil || env.Data == nil {
		return UnknownAction{}
	}
	return toAction(env.Data.MX)
}

// toAction treats an action missing its notification id as unknown.
func toAction(mx *cards.MX) Action {
	if mx == nil {
		return UnknownAction{}
	}
	switch mx.Type {
	case cards.TypeAcknowledge:
		if mx.NotificationID != "" {
			return AcknowledgeAction{NotificationID: mx.NotificationID}
		}
	case cards.TypeTaskNotification:
		if mx.NotificationID != "" {
			return TaskNotificationAction{NotificationID: mx.NotificationID}
		}
	case cards.TypeTaskDefault:
		return TaskDefaultAction{}
	}
	return UnknownAction{Type: mx.Type}
}
