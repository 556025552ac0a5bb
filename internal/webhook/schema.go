// Package webhook validates WhatsApp Cloud API webhook payloads and normalizes
// them into models.InboundMessage.
package webhook

// Payload is the top-level webhook notification.
type Payload struct {
	Object string  `json:"object" validate:"required"`
	Entry  []Entry `json:"entry" validate:"required,min=1,dive"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id" validate:"required"`
	Changes []Change `json:"changes" validate:"required,min=1,dive"`
}

// Change is one subscribed field update.
type Change struct {
	Field string `json:"field" validate:"required"`
	Value Value  `json:"value"`
}

// Value carries the messages or statuses of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product" validate:"omitempty,eq=whatsapp"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty" validate:"omitempty,dive"`
	Messages         []Message `json:"messages,omitempty" validate:"omitempty,dive"`
	Statuses         []Status  `json:"statuses,omitempty" validate:"omitempty,dive"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

type Contact struct {
	WaID    string  `json:"wa_id" validate:"required"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name,omitempty"`
}

// Message is an inbound user message.
type Message struct {
	From        string       `json:"from" validate:"required,numeric"`
	ID          string       `json:"id" validate:"required"`
	Timestamp   string       `json:"timestamp" validate:"required,numeric"`
	Type        string       `json:"type" validate:"required"`
	Text        *Text        `json:"text,omitempty" validate:"required_if=Type text"`
	Interactive *Interactive `json:"interactive,omitempty" validate:"required_if=Type interactive"`
	Button      *QuickReply  `json:"button,omitempty" validate:"required_if=Type button"`
}

type Text struct {
	Body string `json:"body" validate:"required"`
}

// Interactive is the reply to an interactive button or list message.
type Interactive struct {
	Type        string       `json:"type" validate:"required"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty" validate:"required_if=Type button_reply"`
	ListReply   *ListReply   `json:"list_reply,omitempty" validate:"required_if=Type list_reply"`
}

type ButtonReply struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title"`
}

type ListReply struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// QuickReply is the reply to a template quick-reply button.
type QuickReply struct {
	Payload string `json:"payload" validate:"required"`
	Text    string `json:"text"`
}

// Status is a delivery receipt for a message the business sent.
type Status struct {
	ID          string `json:"id" validate:"required"`
	Status      string `json:"status" validate:"required"`
	Timestamp   string `json:"timestamp" validate:"required,numeric"`
	RecipientID string `json:"recipient_id" validate:"required"`
}
