package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
	googlegenai "google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the subset of the Gemini models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
}

// GeminiClient implements Completer with the Google Gemini API.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
	system      string
}

// NewGeminiClient creates a Gemini client. WithAPIKey is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := buildOpts(DefaultGeminiModel, opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	gc, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	slog.Debug("genai.NewGeminiClient: Gemini client created", "model", cfg.Model)
	return &GeminiClient{
		models:      gc.Models,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		system:      cfg.SystemPrompt,
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	contents := make([]*googlegenai.Content, 0, len(history))
	for _, h := range history {
		role := "user"
		if h.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &googlegenai.Content{
			Role:  role,
			Parts: []*googlegenai.Part{{Text: h.Text}},
		})
	}

	temp := c.temperature
	config := &googlegenai.GenerateContentConfig{Temperature: &temp}
	if c.maxTokens > 0 {
		config.MaxOutputTokens = c.maxTokens
	}
	if c.system != "" {
		config.SystemInstruction = &googlegenai.Content{
			Parts: []*googlegenai.Part{{Text: c.system}},
		}
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		slog.Error("GeminiClient.Complete: generate content failed", "error", err, "model", c.model)
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoChoicesReturned
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return finishReply(sb.String())
}
