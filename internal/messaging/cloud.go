package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/go-resty/resty/v2"
)

// Cloud API defaults.
const (
	DefaultCloudBaseURL    = "https://graph.facebook.com/"
	DefaultCloudAPIVersion = "v21.0"
	DefaultCloudTimeout    = 15 * time.Second
)

// CloudOpts holds configuration for the WhatsApp Cloud API sender.
type CloudOpts struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// CloudOption defines a configuration option for CloudService.
type CloudOption func(*CloudOpts)

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(url string) CloudOption {
	return func(o *CloudOpts) { o.BaseURL = url }
}

// WithAPIVersion sets the Graph API version, e.g. "v21.0".
func WithAPIVersion(v string) CloudOption {
	return func(o *CloudOpts) { o.APIVersion = v }
}

// WithPhoneNumberID sets the business phone number ID messages are sent from.
func WithPhoneNumberID(id string) CloudOption {
	return func(o *CloudOpts) { o.PhoneNumberID = id }
}

// WithAccessToken sets the bearer token.
func WithAccessToken(token string) CloudOption {
	return func(o *CloudOpts) { o.AccessToken = token }
}

// WithHTTPTimeout bounds each API request.
func WithHTTPTimeout(d time.Duration) CloudOption {
	return func(o *CloudOpts) { o.Timeout = d }
}

// Compile-time check that CloudService implements Sender.
var _ Sender = (*CloudService)(nil)

// CloudService sends messages through the WhatsApp Cloud API.
type CloudService struct {
	http *resty.Client
	path string
}

// NewCloudService creates a Cloud API sender. The phone number ID and access token are required.
func NewCloudService(opts ...CloudOption) (*CloudService, error) {
	cfg := CloudOpts{
		BaseURL:    DefaultCloudBaseURL,
		APIVersion: DefaultCloudAPIVersion,
		Timeout:    DefaultCloudTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("phone number ID and access token must be provided")
	}
	slog.Debug("CloudService.NewCloudService: configured", "base_url", cfg.BaseURL, "version", cfg.APIVersion)

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &CloudService{
		http: client,
		path: fmt.Sprintf("/%s/%s/messages", strings.Trim(cfg.APIVersion, "/"), cfg.PhoneNumberID),
	}, nil
}

type cloudText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type cloudReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type cloudButton struct {
	Type  string     `json:"type"`
	Reply cloudReply `json:"reply"`
}

type cloudRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type cloudSection struct {
	Title string     `json:"title,omitempty"`
	Rows  []cloudRow `json:"rows"`
}

type cloudAction struct {
	Button   string         `json:"button,omitempty"`
	Buttons  []cloudButton  `json:"buttons,omitempty"`
	Sections []cloudSection `json:"sections,omitempty"`
}

type cloudBody struct {
	Text string `json:"text"`
}

type cloudInteractive struct {
	Type   string      `json:"type"`
	Body   cloudBody   `json:"body"`
	Action cloudAction `json:"action"`
}

type cloudMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	RecipientType    string            `json:"recipient_type,omitempty"`
	To               string            `json:"to,omitempty"`
	Type             string            `json:"type,omitempty"`
	Text             *cloudText        `json:"text,omitempty"`
	Interactive      *cloudInteractive `json:"interactive,omitempty"`
	Status           string            `json:"status,omitempty"`
	MessageID        string            `json:"message_id,omitempty"`
}

type cloudResult struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type cloudError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func newCloudMessage(to, kind string) cloudMessage {
	return cloudMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: kind}
}

func (s *CloudService) SendText(ctx context.Context, to, body string) error {
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	msg := newCloudMessage(canonical, "text")
	msg.Text = &cloudText{Body: truncate(body, MaxTextBodyLength)}
	return s.post(ctx, msg)
}

func (s *CloudService) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := checkButtons(len(buttons)); err != nil {
		return err
	}
	action := cloudAction{Buttons: make([]cloudButton, 0, len(buttons))}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, cloudButton{
			Type:  "reply",
			Reply: cloudReply{ID: b.ID, Title: truncate(b.Title, MaxButtonTitleLength)},
		})
	}
	msg := newCloudMessage(canonical, "interactive")
	msg.Interactive = &cloudInteractive{
		Type:   "button",
		Body:   cloudBody{Text: truncate(body, MaxInteractiveBodyLength)},
		Action: action,
	}
	return s.post(ctx, msg)
}

func (s *CloudService) SendList(ctx context.Context, to, body, buttonText string, sections []models.ListSection) error {
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	rows := 0
	action := cloudAction{Button: truncate(buttonText, MaxListButtonTextLength)}
	for _, sec := range sections {
		cs := cloudSection{Title: sec.Title, Rows: make([]cloudRow, 0, len(sec.Rows))}
		for _, r := range sec.Rows {
			cs.Rows = append(cs.Rows, cloudRow{
				ID:          r.ID,
				Title:       truncate(r.Title, MaxRowTitleLength),
				Description: truncate(r.Description, MaxRowDescriptionLength),
			})
		}
		rows += len(sec.Rows)
		action.Sections = append(action.Sections, cs)
	}
	if err := checkRows(rows); err != nil {
		return err
	}
	msg := newCloudMessage(canonical, "interactive")
	msg.Interactive = &cloudInteractive{
		Type:   "list",
		Body:   cloudBody{Text: truncate(body, MaxInteractiveBodyLength)},
		Action: action,
	}
	return s.post(ctx, msg)
}

// MarkRead marks an inbound message as read, which also shows the blue ticks.
func (s *CloudService) MarkRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return s.post(ctx, cloudMessage{MessagingProduct: "whatsapp", Status: "read", MessageID: messageID})
}

func (s *CloudService) post(ctx context.Context, msg cloudMessage) error {
	var result cloudResult
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		SetError(&cloudError{}).
		Post(s.path)
	if err != nil {
		slog.Error("CloudService.post: request failed", "error", err, "to", msg.To, "type", msg.Type)
		return fmt.Errorf("cloud API request failed: %w", err)
	}
	if resp.IsError() {
		detail := resp.String()
		if e, ok := resp.Error().(*cloudError); ok && e.Error.Message != "" {
			detail = fmt.Sprintf("code %d: %s", e.Error.Code, e.Error.Message)
		}
		slog.Error("CloudService.post: API error", "status", resp.StatusCode(), "detail", detail, "to", msg.To)
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode(), detail)
	}
	if len(result.Messages) > 0 {
		slog.Debug("CloudService.post: message accepted", "to", msg.To, "type", msg.Type, "id", result.Messages[0].ID)
	}
	return nil
}
