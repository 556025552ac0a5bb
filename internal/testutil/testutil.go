// Package testutil provides common test fakes and helpers for FlowDesk tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/tabular"
)

var (
	_ messaging.Sender = (*Sender)(nil)
	_ genai.Completer  = (*Completer)(nil)
	_ tabular.Writer   = (*Writer)(nil)
)

// Sender records every outbound call as an OutboundAction.
type Sender struct {
	mu      sync.Mutex
	Actions []models.OutboundAction
	Reads   []string
	Err     error // returned by every send
	ReadErr error // returned by MarkRead
}

func (s *Sender) record(a models.OutboundAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Actions = append(s.Actions, a)
	return nil
}

func (s *Sender) SendText(_ context.Context, to, body string) error {
	return s.record(models.TextAction(to, body))
}

func (s *Sender) SendButtons(_ context.Context, to, body string, buttons []models.Button) error {
	return s.record(models.ButtonsAction(to, body, buttons...))
}

func (s *Sender) SendList(_ context.Context, to, body, buttonText string, sections []models.ListSection) error {
	return s.record(models.ListAction(to, body, buttonText, sections...))
}

func (s *Sender) MarkRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return s.ReadErr
	}
	s.Reads = append(s.Reads, messageID)
	return nil
}

// Sent returns a copy of the recorded actions.
func (s *Sender) Sent() []models.OutboundAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboundAction(nil), s.Actions...)
}

// Completer returns scripted replies in order, repeating the last one.
type Completer struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Calls   [][]models.HistoryEntry
	// Block makes Complete wait for ctx to be done.
	Block bool
}

func (c *Completer) Complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, append([]models.HistoryEntry(nil), history...))
	n := len(c.Calls)
	c.mu.Unlock()

	if c.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Replies) == 0 {
		return "", nil
	}
	if n > len(c.Replies) {
		n = len(c.Replies)
	}
	return c.Replies[n-1], nil
}

// CallCount returns the number of Complete calls.
func (c *Completer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Writer records appended registrations.
type Writer struct {
	mu      sync.Mutex
	Records []models.Registration
	Err     error
}

func (w *Writer) AppendRecord(_ context.Context, reg models.Registration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.Records = append(w.Records, reg)
	return nil
}

// Appended returns a copy of the recorded registrations.
func (w *Writer) Appended() []models.Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Registration(nil), w.Records...)
}

// TextPayload builds a Cloud API webhook body carrying one text message.
func TextPayload(from, id, body string) []byte {
	return messagePayload(from, map[string]any{
		"from": from, "id": id, "timestamp": "1700000000", "type": "text",
		"text": map[string]any{"body": body},
	})
}

// ButtonPayload builds a Cloud API webhook body carrying one button reply.
func ButtonPayload(from, id, buttonID, title string) []byte {
	return messagePayload(from, map[string]any{
		"from": from, "id": id, "timestamp": "1700000000", "type": "interactive",
		"interactive": map[string]any{
			"type":         "button_reply",
			"button_reply": map[string]any{"id": buttonID, "title": title},
		},
	})
}

// StatusPayload builds a Cloud API webhook body carrying one delivery status.
func StatusPayload(recipient, id, status string) []byte {
	return envelope(map[string]any{
		"messaging_product": "whatsapp",
		"metadata":          map[string]any{"display_phone_number": "15550000000", "phone_number_id": "123456"},
		"statuses": []any{map[string]any{
			"id": id, "recipient_id": recipient, "status": status, "timestamp": "1700000001",
		}},
	})
}

func messagePayload(from string, msg map[string]any) []byte {
	return envelope(map[string]any{
		"messaging_product": "whatsapp",
		"metadata":          map[string]any{"display_phone_number": "15550000000", "phone_number_id": "123456"},
		"contacts":          []any{map[string]any{"wa_id": from, "profile": map[string]any{"name": "Test User"}}},
		"messages":          []any{msg},
	})
}

func envelope(value map[string]any) []byte {
	data, err := json.Marshal(map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"id":      "WABA_ID",
			"changes": []any{map[string]any{"field": "messages", "value": value}},
		}},
	})
	if err != nil {
		panic(err)
	}
	return data
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with a raw body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedReceipts adds sample receipts to the store.
func SeedReceipts(t *testing.T, st store.ReceiptStore) {
	t.Helper()
	testReceipts := []models.Receipt{
		{MessageID: "wamid.1", To: "15551230001", Status: models.MessageStatusSent, Time: 1},
		{MessageID: "wamid.2", To: "15551230002", Status: models.MessageStatusDelivered, Time: 2},
	}
	for _, receipt := range testReceipts {
		if err := st.AddReceipt(context.Background(), receipt); err != nil {
			t.Fatalf("failed to add test receipt: %v", err)
		}
	}
}
