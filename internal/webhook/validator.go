package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/go-playground/validator/v10"
)

// SignatureHeader is the header Meta signs webhook bodies with.
const SignatureHeader = "X-Hub-Signature-256"

// ErrInvalidSignature is returned when a body does not match its signature header.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Validator checks webhook payload shape and normalizes the first event it carries.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate decodes raw, checks it against the webhook schema and returns the
// normalized message. Schema failures wrap models.ErrMalformedPayload.
func (v *Validator) Validate(raw []byte) (models.InboundMessage, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: decode: %v", models.ErrMalformedPayload, err)
	}
	if err := v.validate.Struct(p); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	msg := normalize(p)
	msg.Raw = json.RawMessage(raw)
	slog.Debug("Validator.Validate: payload normalized", "kind", msg.Kind, "userID", msg.UserID, "messageID", msg.MessageID)
	return msg, nil
}

func normalize(p Payload) models.InboundMessage {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			val := change.Value
			if len(val.Messages) > 0 {
				return normalizeMessage(val.Messages[0], val.Contacts)
			}
			if len(val.Statuses) > 0 {
				return normalizeStatus(val.Statuses[0])
			}
		}
	}
	return models.InboundMessage{Kind: models.KindUnknown}
}

func normalizeMessage(m Message, contacts []Contact) models.InboundMessage {
	out := models.InboundMessage{
		UserID:    m.From,
		Kind:      models.KindUnknown,
		MessageID: m.ID,
		Timestamp: parseUnix(m.Timestamp),
	}
	for _, c := range contacts {
		if c.WaID == m.From {
			out.ProfileName = c.Profile.Name
			break
		}
	}

	switch m.Type {
	case "text":
		out.Kind = models.KindText
		out.Text = strings.TrimSpace(m.Text.Body)
	case "interactive":
		switch m.Interactive.Type {
		case "button_reply":
			out.Kind = models.KindButtonReply
			out.SelectionID = m.Interactive.ButtonReply.ID
			out.SelectionTitle = m.Interactive.ButtonReply.Title
		case "list_reply":
			out.Kind = models.KindListReply
			out.SelectionID = m.Interactive.ListReply.ID
			out.SelectionTitle = m.Interactive.ListReply.Title
		}
	case "button":
		out.Kind = models.KindButtonReply
		out.SelectionID = m.Button.Payload
		out.SelectionTitle = m.Button.Text
	}
	return out
}

func normalizeStatus(s Status) models.InboundMessage {
	ts := parseUnix(s.Timestamp)
	return models.InboundMessage{
		UserID:    s.RecipientID,
		Kind:      models.KindStatus,
		MessageID: s.ID,
		Timestamp: ts,
		Status: &models.Receipt{
			MessageID: s.ID,
			To:        s.RecipientID,
			Status:    models.MessageStatus(s.Status),
			Time:      ts.Unix(),
		},
	}
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks header ("sha256=<hex>") against the HMAC-SHA256 of body keyed by secret.
func VerifySignature(secret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}
