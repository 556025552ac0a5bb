// Package genai produces AI chat replies from a bounded conversation history.
//
// The OpenAI client is the default; Gemini and Anthropic clients implement the
// same Completer interface and are selected with New.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Defaults shared by all providers.
const (
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 1024
)

// DefaultSystemPrompt is the assistant persona used when no prompt file is configured.
const DefaultSystemPrompt = `You are the WhatsApp virtual assistant of a community that runs morning music events in cafés.
Answer questions about upcoming events, artists, venues, schedules and the community in a warm, energetic and concise way.
Reply in the language the user writes in and avoid markdown formatting.`

var (
	// ErrNoChoicesReturned is returned when the provider responds without any candidate.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyCompletion is returned when the provider's reply has no text.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrMissingAPIKey is returned when a client is built without credentials.
	ErrMissingAPIKey = errors.New("API key not set")
)

// Completer produces the assistant's next reply for a conversation whose last
// entry is the user's message.
type Completer interface {
	Complete(ctx context.Context, history []models.HistoryEntry) (string, error)
}

// Opts holds configuration shared by every provider client.
type Opts struct {
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int64
	SystemPrompt string
}

// Option defines a configuration option for provider clients.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithSystemPrompt sets the system instruction sent with every request.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

func buildOpts(defaultModel string, opts []Option) Opts {
	cfg := Opts{
		Model:        defaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		SystemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return cfg
}

// New builds the client for the named provider.
func New(ctx context.Context, provider string, opts ...Option) (Completer, error) {
	slog.Debug("genai.New: creating completion client", "provider", provider)
	switch strings.ToLower(provider) {
	case "", ProviderOpenAI:
		return NewClient(opts...)
	case ProviderGemini:
		return NewGeminiClient(ctx, opts...)
	case ProviderAnthropic:
		return NewAnthropicClient(opts...)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", provider)
	}
}

// LoadSystemPrompt reads a system prompt from path. An empty path yields DefaultSystemPrompt.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", fmt.Errorf("system prompt file %s is empty", path)
	}
	slog.Debug("genai.LoadSystemPrompt: loaded system prompt", "path", path, "length", len(prompt))
	return prompt, nil
}

// finishReply trims a provider reply and rejects blank text.
func finishReply(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
