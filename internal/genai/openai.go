package genai

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completions service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completions API.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	systemPrompt        string
}

// NewClient initializes an OpenAI client. WithAPIKey is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := buildOpts(string(openai.ChatModelGPT4oMini), opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: OpenAI client created", "model", cfg.Model, "temperature", cfg.Temperature)
	return &Client{
		chat:                completionsAdapter{svc: &cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxTokens,
		systemPrompt:        cfg.SystemPrompt,
	}, nil
}

// Complete sends the system prompt followed by the history and returns the first choice.
func (c *Client) Complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    c.buildMessages(history),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.Complete: chat completion failed", "error", err, "model", c.model)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return finishReply(resp.Choices[0].Message.Content)
}

func (c *Client) buildMessages(history []models.HistoryEntry) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(c.systemPrompt))
	}
	for _, h := range history {
		switch h.Role {
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(h.Text))
		default:
			msgs = append(msgs, openai.UserMessage(h.Text))
		}
	}
	return msgs
}
