package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/twiliowhatsapp"
	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

var (
	// ErrInvalidTwilioSignature is returned when a Twilio webhook signature does not match.
	ErrInvalidTwilioSignature = errors.New("invalid Twilio signature")
	// ErrMissingTwilioFields is returned for webhook requests without a sender.
	ErrMissingTwilioFields = errors.New("missing required Twilio fields")
)

// Compile-time check that TwilioService implements Sender.
var _ Sender = (*TwilioService)(nil)

// TwilioService sends messages through Twilio's WhatsApp API.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	book      *optionBook
	validator *twilioclient.RequestValidator
	publicURL string
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption defines a configuration option for TwilioService.
type TwilioOption func(*TwilioService)

// WithRequestValidation checks X-Twilio-Signature on inbound webhooks. publicURL
// is the full webhook URL as configured in the Twilio console.
func WithRequestValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// WithMenuIdle sets how long an unanswered numbered menu is remembered.
func WithMenuIdle(d time.Duration) TwilioOption {
	return func(s *TwilioService) { s.book.setIdle(d) }
}

// NewTwilioService creates a TwilioService around a Twilio client (real or mock).
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{client: client, book: newOptionBook()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop makes later sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *TwilioService) send(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.send: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, truncate(body, MaxTextBodyLength)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	s.book.forget(phoneNumberRegex.ReplaceAllString(to, ""))
	return s.send(ctx, to, body)
}

func (s *TwilioService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := checkButtons(len(buttons)); err != nil {
		return err
	}
	if err := s.send(ctx, to, RenderButtons(body, buttons)); err != nil {
		return err
	}
	s.book.offerButtons(phoneNumberRegex.ReplaceAllString(to, ""), buttons)
	return nil
}

func (s *TwilioService) SendList(ctx context.Context, to, body, buttonText string, sections []models.ListSection) error {
	if err := s.send(ctx, to, RenderList(body, sections)); err != nil {
		return err
	}
	s.book.offerList(phoneNumberRegex.ReplaceAllString(to, ""), sections)
	return nil
}

// MarkRead is a no-op; Twilio does not expose WhatsApp read receipts for inbound messages.
func (s *TwilioService) MarkRead(context.Context, string) error {
	return nil
}

// ParseInbound converts a Twilio webhook form into an inbound message. Status
// callbacks become KindStatus; numbered replies to the last menu become selections.
func (s *TwilioService) ParseInbound(r *http.Request) (models.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundMessage{}, fmt.Errorf("failed to parse Twilio webhook form: %w", err)
	}
	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.publicURL, params, r.Header.Get(TwilioSignatureHeader)) {
			return models.InboundMessage{}, ErrInvalidTwilioSignature
		}
	}

	if status := r.PostForm.Get("MessageStatus"); status != "" && r.PostForm.Get("Body") == "" {
		return models.InboundMessage{
			UserID: stripWhatsAppPrefix(r.PostForm.Get("To")),
			Kind:   models.KindStatus,
			Status: &models.Receipt{
				MessageID: r.PostForm.Get("MessageSid"),
				To:        stripWhatsAppPrefix(r.PostForm.Get("To")),
				Status:    twilioStatus(status),
				Time:      time.Now().Unix(),
			},
		}, nil
	}

	user := r.PostForm.Get("WaId")
	if user == "" {
		user = stripWhatsAppPrefix(r.PostForm.Get("From"))
	}
	if user == "" {
		return models.InboundMessage{}, ErrMissingTwilioFields
	}
	msg := models.InboundMessage{
		UserID:      user,
		Kind:        models.KindUnknown,
		MessageID:   r.PostForm.Get("MessageSid"),
		ProfileName: r.PostForm.Get("ProfileName"),
		Timestamp:   time.Now(),
	}
	numMedia := r.PostForm.Get("NumMedia")
	if body := strings.TrimSpace(r.PostForm.Get("Body")); body != "" && (numMedia == "" || numMedia == "0") {
		msg.Kind = models.KindText
		msg.Text = body
	}
	slog.Info("TwilioService.ParseInbound: inbound message", "from", msg.UserID, "kind", msg.Kind)
	return s.book.resolve(msg), nil
}

func stripWhatsAppPrefix(addr string) string {
	return phoneNumberRegex.ReplaceAllString(strings.TrimPrefix(addr, "whatsapp:"), "")
}

func twilioStatus(s string) models.MessageStatus {
	switch s {
	case "delivered":
		return models.MessageStatusDelivered
	case "read":
		return models.MessageStatusRead
	case "failed", "undelivered":
		return models.MessageStatusFailed
	default:
		return models.MessageStatusSent
	}
}
