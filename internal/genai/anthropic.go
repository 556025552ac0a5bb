package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// messageService is the subset of the Anthropic messages API used here.
type messageService interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...anthropicoption.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient implements Completer with the Anthropic Messages API.
type AnthropicClient struct {
	messages    messageService
	model       string
	temperature float64
	maxTokens   int64
	system      string
}

// NewAnthropicClient creates an Anthropic client. WithAPIKey is required.
func NewAnthropicClient(opts ...Option) (*AnthropicClient, error) {
	cfg := buildOpts(DefaultAnthropicModel, opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	cli := anthropic.NewClient(anthropicoption.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewAnthropicClient: Anthropic client created", "model", cfg.Model)
	return &AnthropicClient{
		messages:    &cli.Messages,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		system:      cfg.SystemPrompt,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(history))
	for _, h := range history {
		block := anthropic.NewTextBlock(h.Text)
		if h.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(c.temperature),
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		slog.Error("AnthropicClient.Complete: message request failed", "error", err, "model", c.model)
		return "", err
	}
	if msg == nil || len(msg.Content) == 0 {
		return "", ErrNoChoicesReturned
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return finishReply(sb.String())
}
