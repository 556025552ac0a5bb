package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/whatsapp"
)

// Compile-time check that LinkedService implements Sender.
var _ Sender = (*LinkedService)(nil)

// LinkedService sends messages from a linked WhatsApp device.
type LinkedService struct {
	client  whatsapp.WhatsAppSender
	book    *optionBook
	mu      sync.RWMutex
	stopped bool
}

// LinkedOption defines a configuration option for LinkedService.
type LinkedOption func(*LinkedService)

// WithLinkedMenuIdle sets how long an unanswered numbered menu is remembered.
func WithLinkedMenuIdle(d time.Duration) LinkedOption {
	return func(s *LinkedService) { s.book.setIdle(d) }
}

// NewLinkedService wraps a whatsmeow client (or whatsapp.MockClient in tests).
func NewLinkedService(client whatsapp.WhatsAppSender, opts ...LinkedOption) *LinkedService {
	s := &LinkedService{client: client, book: newOptionBook()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop makes later sends fail with ErrServiceStopped and disconnects a real client.
func (s *LinkedService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if c, ok := s.client.(*whatsapp.Client); ok {
		c.Disconnect()
	}
	slog.Info("LinkedService stopped")
	return nil
}

func (s *LinkedService) send(ctx context.Context, to, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, truncate(body, MaxTextBodyLength)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (s *LinkedService) SendText(ctx context.Context, to, body string) error {
	s.book.forget(phoneNumberRegex.ReplaceAllString(to, ""))
	return s.send(ctx, to, body)
}

func (s *LinkedService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if err := checkButtons(len(buttons)); err != nil {
		return err
	}
	if err := s.send(ctx, to, RenderButtons(body, buttons)); err != nil {
		return err
	}
	s.book.offerButtons(phoneNumberRegex.ReplaceAllString(to, ""), buttons)
	return nil
}

func (s *LinkedService) SendList(ctx context.Context, to, body, buttonText string, sections []models.ListSection) error {
	if err := s.send(ctx, to, RenderList(body, sections)); err != nil {
		return err
	}
	s.book.offerList(phoneNumberRegex.ReplaceAllString(to, ""), sections)
	return nil
}

// MarkRead is a no-op for the linked device backend.
func (s *LinkedService) MarkRead(context.Context, string) error {
	return nil
}

// Resolve maps a numbered reply to the user's last menu onto a selection.
func (s *LinkedService) Resolve(msg models.InboundMessage) models.InboundMessage {
	return s.book.resolve(msg)
}
