package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func newCloudTestServer(t *testing.T, status int, reply string) (*CloudService, *[]capturedRequest) {
	t.Helper()
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		reqs = append(reqs, capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	svc, err := NewCloudService(
		WithBaseURL(srv.URL+"/"),
		WithAPIVersion("v21.0"),
		WithPhoneNumberID("106540352242922"),
		WithAccessToken("token-123"),
	)
	require.NoError(t, err)
	return svc, &reqs
}

const okReply = `{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`

func TestNewCloudService_RequiresCredentials(t *testing.T) {
	_, err := NewCloudService(WithPhoneNumberID("1"))
	assert.Error(t, err)
}

func TestCloudService_SendText(t *testing.T) {
	svc, reqs := newCloudTestServer(t, http.StatusOK, okReply)
	require.NoError(t, svc.SendText(context.Background(), "+52 1 555 000 1111", "Hello"))

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.Equal(t, "/v21.0/106540352242922/messages", req.path)
	assert.Equal(t, "Bearer token-123", req.auth)
	assert.Equal(t, "whatsapp", req.body["messaging_product"])
	assert.Equal(t, "5215550001111", req.body["to"])
	assert.Equal(t, "text", req.body["type"])
	assert.Equal(t, "Hello", req.body["text"].(map[string]any)["body"])
}

func TestCloudService_SendButtons(t *testing.T) {
	svc, reqs := newCloudTestServer(t, http.StatusOK, okReply)
	err := svc.SendButtons(context.Background(), "5215550001111", "What would you like to do?", []models.Button{
		{ID: "register", Title: "Register"},
		{ID: "ai_chat", Title: "Chat with us about anything at all"},
	})
	require.NoError(t, err)

	interactive := (*reqs)[0].body["interactive"].(map[string]any)
	assert.Equal(t, "button", interactive["type"])
	buttons := interactive["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, buttons, 2)
	second := buttons[1].(map[string]any)
	assert.Equal(t, "reply", second["type"])
	reply := second["reply"].(map[string]any)
	assert.Equal(t, "ai_chat", reply["id"])
	assert.Len(t, []rune(reply["title"].(string)), MaxButtonTitleLength)
}

func TestCloudService_SendButtons_TooMany(t *testing.T) {
	svc, reqs := newCloudTestServer(t, http.StatusOK, okReply)
	buttons := []models.Button{{ID: "1", Title: "1"}, {ID: "2", Title: "2"}, {ID: "3", Title: "3"}, {ID: "4", Title: "4"}}
	err := svc.SendButtons(context.Background(), "5215550001111", "pick", buttons)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Empty(t, *reqs)
}

func TestCloudService_SendList(t *testing.T) {
	svc, reqs := newCloudTestServer(t, http.StatusOK, okReply)
	err := svc.SendList(context.Background(), "5215550001111", "Pick one", "Options", []models.ListSection{
		{Title: "Main", Rows: []models.ListRow{{ID: "register", Title: "Register", Description: "Sign up"}}},
	})
	require.NoError(t, err)

	interactive := (*reqs)[0].body["interactive"].(map[string]any)
	assert.Equal(t, "list", interactive["type"])
	action := interactive["action"].(map[string]any)
	assert.Equal(t, "Options", action["button"])
	sections := action["sections"].([]any)
	rows := sections[0].(map[string]any)["rows"].([]any)
	assert.Equal(t, "register", rows[0].(map[string]any)["id"])
}

func TestCloudService_MarkRead(t *testing.T) {
	svc, reqs := newCloudTestServer(t, http.StatusOK, `{"success":true}`)
	require.NoError(t, svc.MarkRead(context.Background(), "wamid.IN"))
	require.Len(t, *reqs, 1)
	assert.Equal(t, "read", (*reqs)[0].body["status"])
	assert.Equal(t, "wamid.IN", (*reqs)[0].body["message_id"])

	require.NoError(t, svc.MarkRead(context.Background(), ""))
	assert.Len(t, *reqs, 1)
}

func TestCloudService_APIError(t *testing.T) {
	svc, _ := newCloudTestServer(t, http.StatusBadRequest,
		`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`)
	err := svc.SendText(context.Background(), "5215550001111", "Hello")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "Invalid parameter")
}
