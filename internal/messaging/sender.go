// Package messaging delivers the flow engine's outbound actions to WhatsApp.
//
// Three backends implement Sender: the WhatsApp Cloud API (CloudService),
// Twilio (TwilioService) and a linked WhatsApp device (LinkedService). The
// last two cannot render interactive messages, so buttons and lists are sent
// as numbered text and numeric replies are mapped back to option IDs.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

var (
	// ErrServiceStopped is returned by senders after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrInvalidAction is returned for actions that violate provider limits.
	ErrInvalidAction = errors.New("invalid outbound action")
	// ErrSendFailed is returned when the provider rejects a request.
	ErrSendFailed = errors.New("provider rejected message")
)

// phoneNumberRegex matches every non-digit character.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender sends messages to one WhatsApp user at a time.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendList(ctx context.Context, to, body, buttonText string, sections []models.ListSection) error
	// MarkRead acknowledges an inbound message. Backends without read receipts return nil.
	MarkRead(ctx context.Context, messageID string) error
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Deliver sends one outbound action through the sender.
func Deliver(ctx context.Context, s Sender, action models.OutboundAction) error {
	slog.Debug("messaging.Deliver: sending action", "kind", action.Kind, "to", action.To)
	switch action.Kind {
	case models.ActionSendText:
		return s.SendText(ctx, action.To, action.Body)
	case models.ActionSendButtons:
		return s.SendButtons(ctx, action.To, action.Body, action.Buttons)
	case models.ActionSendList:
		return s.SendList(ctx, action.To, action.Body, action.ButtonText, action.Sections)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, action.Kind)
	}
}
