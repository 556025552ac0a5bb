package genai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func choice(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

var sampleHistory = []models.HistoryEntry{
	{Role: models.RoleUser, Text: "When is the next session?"},
	{Role: models.RoleAssistant, Text: "Saturday at 10am."},
	{Role: models.RoleUser, Text: "Where?"},
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: choice("  At Café Central.  ")}
	client := &Client{chat: mock, model: "gpt-4o-mini", temperature: 1, systemPrompt: "persona"}
	out, err := client.Complete(context.Background(), sampleHistory)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "At Café Central." {
		t.Errorf("expected trimmed reply, got '%s'", out)
	}
	// System prompt plus three history entries.
	if len(mock.params.Messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(mock.params.Messages))
	}
}

func TestBuildMessages_Roles(t *testing.T) {
	client := &Client{systemPrompt: "persona"}
	msgs := client.buildMessages(sampleHistory)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Error("expected first message to be the system prompt")
	}
	if msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Error("history roles not preserved")
	}

	client.systemPrompt = ""
	if got := client.buildMessages(sampleHistory); len(got) != 3 {
		t.Errorf("expected no system message, got %d messages", len(got))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Complete(context.Background(), sampleHistory)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.Complete(context.Background(), sampleHistory)
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestComplete_BlankReply(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: choice("   ")}}
	_, err := client.Complete(context.Background(), sampleHistory)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.temperature != 0.2 {
		t.Errorf("options not applied: model=%s temperature=%v", cli.model, cli.temperature)
	}
	if cli.systemPrompt != DefaultSystemPrompt {
		t.Error("expected default system prompt")
	}
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "", WithAPIKey("k"))
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := c.(*Client); !ok {
		t.Errorf("expected *Client, got %T", c)
	}
	c, err = New(ctx, "Anthropic", WithAPIKey("k"))
	if err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	if _, ok := c.(*AnthropicClient); !ok {
		t.Errorf("expected *AnthropicClient, got %T", c)
	}
	if _, err := New(ctx, ProviderGemini); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey for gemini without key, got %v", err)
	}
	if _, err := New(ctx, "llama"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	got, err := LoadSystemPrompt("")
	if err != nil || got != DefaultSystemPrompt {
		t.Errorf("expected default prompt, got %q err=%v", got, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("\n  You are a helpful host.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSystemPrompt(path)
	if err != nil || got != "You are a helpful host." {
		t.Errorf("unexpected prompt %q err=%v", got, err)
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, []byte("  \n"), 0o600)
	if _, err := LoadSystemPrompt(empty); err == nil {
		t.Error("expected error for empty prompt file")
	}
	if _, err := LoadSystemPrompt(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing prompt file")
	}
}
