package models

import (
	"encoding/json"
	"time"
)

// MessageKind classifies a normalized inbound message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindButtonReply MessageKind = "button_reply"
	KindListReply   MessageKind = "list_reply"
	KindStatus      MessageKind = "status"
	KindUnknown     MessageKind = "unknown"
)

// InboundMessage is a webhook event after validation and normalization.
// It is read-only once built.
type InboundMessage struct {
	UserID         string          `json:"user_id"`
	Kind           MessageKind     `json:"kind"`
	Text           string          `json:"text,omitempty"`
	SelectionID    string          `json:"selection_id,omitempty"`
	SelectionTitle string          `json:"selection_title,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ProfileName    string          `json:"profile_name,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
	Status         *Receipt        `json:"status,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// IsSelection reports whether the message is a button or list reply.
func (m InboundMessage) IsSelection() bool {
	return m.Kind == KindButtonReply || m.Kind == KindListReply
}

// ActionKind identifies how an outbound action is rendered.
type ActionKind string

const (
	ActionSendText    ActionKind = "send_text"
	ActionSendButtons ActionKind = "send_buttons"
	ActionSendList    ActionKind = "send_list"
)

// Button is a quick-reply button.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row of a list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups list rows under a title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// OutboundAction describes one message to send. The flow engine produces these
// as data; delivery belongs to the messaging sender.
type OutboundAction struct {
	Kind       ActionKind    `json:"kind"`
	To         string        `json:"to"`
	Body       string        `json:"body"`
	Buttons    []Button      `json:"buttons,omitempty"`
	ButtonText string        `json:"button_text,omitempty"`
	Sections   []ListSection `json:"sections,omitempty"`
}

// TextAction builds a send_text action.
func TextAction(to, body string) OutboundAction {
	return OutboundAction{Kind: ActionSendText, To: to, Body: body}
}

// ButtonsAction builds a send_buttons action.
func ButtonsAction(to, body string, buttons ...Button) OutboundAction {
	return OutboundAction{Kind: ActionSendButtons, To: to, Body: body, Buttons: buttons}
}

// ListAction builds a send_list action.
func ListAction(to, body, buttonText string, sections ...ListSection) OutboundAction {
	return OutboundAction{Kind: ActionSendList, To: to, Body: body, ButtonText: buttonText, Sections: sections}
}
