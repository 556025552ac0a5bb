package tabular

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Airtable defaults.
const (
	DefaultAirtableBaseURL = "https://api.airtable.com"
	// DefaultRateLimit is Airtable's per-base limit in requests per second.
	DefaultRateLimit = 5
	DefaultTimeout   = 15 * time.Second
)

// Columns written for every registration in addition to the mapped fields.
const (
	ColumnWhatsApp       = "WhatsApp"
	ColumnRegistrationID = "Registration ID"
	ColumnRegisteredAt   = "Registered At"
)

// DefaultColumns maps registration field names to table column names.
var DefaultColumns = map[string]string{
	"name":       "Name",
	"phone":      "Phone",
	"email":      "Email",
	"birth_date": "Birth Date",
	"about":      "Notes",
}

// Opts holds configuration options for the Airtable writer.
type Opts struct {
	APIKey    string
	BaseID    string
	Table     string
	BaseURL   string
	Columns   map[string]string
	RateLimit float64
	Timeout   time.Duration
}

// Option defines a configuration option for the Airtable writer.
type Option func(*Opts)

// WithAPIKey sets the Airtable personal access token.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBase sets the base ID and table name or ID.
func WithBase(baseID, table string) Option {
	return func(o *Opts) {
		o.BaseID = baseID
		o.Table = table
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithColumns replaces the field-to-column mapping.
func WithColumns(cols map[string]string) Option {
	return func(o *Opts) { o.Columns = cols }
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(o *Opts) { o.RateLimit = perSecond }
}

// Compile-time check that AirtableWriter implements Writer.
var _ Writer = (*AirtableWriter)(nil)

// AirtableWriter creates one Airtable record per registration. Requests are
// throttled to the configured rate and issued one at a time.
type AirtableWriter struct {
	http    *resty.Client
	path    string
	columns map[string]string
	limiter *rate.Limiter
}

// NewAirtableWriter creates an Airtable writer. API key, base and table are required.
func NewAirtableWriter(opts ...Option) (*AirtableWriter, error) {
	cfg := Opts{
		BaseURL:   DefaultAirtableBaseURL,
		Columns:   DefaultColumns,
		RateLimit: DefaultRateLimit,
		Timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" || cfg.BaseID == "" || cfg.Table == "" {
		return nil, fmt.Errorf("airtable API key, base ID and table must be provided")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	slog.Debug("AirtableWriter.NewAirtableWriter: configured", "base", cfg.BaseID, "table", cfg.Table, "rate", cfg.RateLimit)

	return &AirtableWriter{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout),
		path:    fmt.Sprintf("/v0/%s/%s", url.PathEscape(cfg.BaseID), url.PathEscape(cfg.Table)),
		columns: cfg.Columns,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}, nil
}

type airtableRecord struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type airtableCreate struct {
	Records  []airtableRecord `json:"records"`
	Typecast bool             `json:"typecast"`
}

type airtableCreated struct {
	Records []airtableRecord `json:"records"`
}

// Fields builds the column/value map written for a registration. Fields
// without a column mapping keep their own name.
func (w *AirtableWriter) Fields(reg models.Registration) map[string]any {
	fields := make(map[string]any, len(reg.Fields)+3)
	for _, f := range reg.Fields {
		col, ok := w.columns[f.Name]
		if !ok {
			col = f.Name
		}
		fields[col] = f.Value
	}
	fields[ColumnWhatsApp] = reg.UserID
	fields[ColumnRegistrationID] = reg.ID
	fields[ColumnRegisteredAt] = reg.CompletedAt.UTC().Format(time.RFC3339)
	return fields
}

// AppendRecord writes the registration as a new record with typecast enabled.
func (w *AirtableWriter) AppendRecord(ctx context.Context, reg models.Registration) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("airtable rate limiter: %w", err)
	}
	var created airtableCreated
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(airtableCreate{Records: []airtableRecord{{Fields: w.Fields(reg)}}, Typecast: true}).
		SetResult(&created).
		Post(w.path)
	if err != nil {
		slog.Error("AirtableWriter.AppendRecord: request failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("airtable request failed: %w", err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != 429 {
		slog.Error("AirtableWriter.AppendRecord: record rejected", "status", resp.StatusCode(), "body", resp.String())
		return fmt.Errorf("%w: status %d: %s", ErrRecordRejected, resp.StatusCode(), resp.String())
	}
	if resp.IsError() {
		slog.Error("AirtableWriter.AppendRecord: API error", "status", resp.StatusCode(), "body", resp.String())
		return fmt.Errorf("airtable API error: status %d", resp.StatusCode())
	}
	if len(created.Records) > 0 {
		slog.Info("AirtableWriter.AppendRecord: record created", "record", created.Records[0].ID, "userID", reg.UserID)
	}
	return nil
}
