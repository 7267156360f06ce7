package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// doJSON issues one JSON request and asserts the response status, returning
// the raw body for decoding.
func (app *TestApp) doJSON(t *testing.T, method, path string, headers map[string]string, body any, expectStatus int) json.RawMessage {
	t.Helper()

	status, raw := app.tryJSON(t, method, path, headers, body)
	require.Equal(t, expectStatus, status, "%s %s: unexpected status, body: %s", method, path, raw)
	return raw
}

// tryJSON issues one JSON request and returns the status code untouched.
// Race scenarios use it to count winners and losers.
func (app *TestApp) tryJSON(t *testing.T, method, path string, headers map[string]string, body any) (int, json.RawMessage) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err, "%s %s", method, path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func customerHeaders(customerID, displayName string) map[string]string {
	h := map[string]string{"X-Participant-Id": customerID}
	if displayName != "" {
		h["X-Participant-Name"] = displayName
	}
	return h
}

// StartConversation opens a conversation for the given customer over REST.
func (app *TestApp) StartConversation(t *testing.T, customerID, displayName string) *models.Conversation {
	t.Helper()
	raw := app.doJSON(t, http.MethodPost, "/api/conversations",
		customerHeaders(customerID, displayName), map[string]any{}, http.StatusCreated)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	return &conv
}

// QueueConversation hands the conversation to the pending queue and returns
// its 1-based position.
func (app *TestApp) QueueConversation(t *testing.T, conversationID, channel string) int {
	t.Helper()
	raw := app.doJSON(t, http.MethodPost, "/api/conversations/"+conversationID+"/queue",
		nil, map[string]any{"channel": channel}, http.StatusOK)

	var status struct {
		QueuePosition int `json:"queuePosition"`
	}
	require.NoError(t, json.Unmarshal(raw, &status))
	return status.QueuePosition
}

// AcceptConversation claims the conversation for the agent, expecting the
// claim to win.
func (app *TestApp) AcceptConversation(t *testing.T, conversationID, agentID, displayName string) *models.Conversation {
	t.Helper()
	raw := app.doJSON(t, http.MethodPost, "/api/agent/conversations/"+conversationID+"/accept",
		nil, map[string]any{"agentId": agentID, "displayName": displayName}, http.StatusOK)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	return &conv
}

// TryAccept attempts a claim and returns the status code as observed. Only
// uses goroutine-safe failure reporting so racing claims can call it
// concurrently.
func (app *TestApp) TryAccept(t *testing.T, conversationID, agentID, displayName string) int {
	raw, err := json.Marshal(map[string]any{"agentId": agentID, "displayName": displayName})
	if err != nil {
		t.Errorf("encode accept body: %v", err)
		return 0
	}
	req, err := http.NewRequest(http.MethodPost,
		app.BaseURL+"/api/agent/conversations/"+conversationID+"/accept", bytes.NewReader(raw))
	if err != nil {
		t.Errorf("build accept request: %v", err)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Errorf("accept %s as %s: %v", conversationID, agentID, err)
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// TrySendMessage posts one customer message and returns the status code.
// Only uses goroutine-safe failure reporting so senders can race a close.
func (app *TestApp) TrySendMessage(t *testing.T, conversationID, senderID, content string) int {
	raw, err := json.Marshal(map[string]any{
		"senderId":   senderID,
		"senderType": models.ParticipantCustomer,
		"content":    content,
	})
	if err != nil {
		t.Errorf("encode message body: %v", err)
		return 0
	}
	req, err := http.NewRequest(http.MethodPost,
		app.BaseURL+"/api/conversations/"+conversationID+"/messages", bytes.NewReader(raw))
	if err != nil {
		t.Errorf("build message request: %v", err)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Errorf("send %q to %s: %v", content, conversationID, err)
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// PostMessage appends a message through the server-to-server surface.
func (app *TestApp) PostMessage(t *testing.T, conversationID string, sender models.Participant, content string) models.Message {
	t.Helper()
	raw := app.doJSON(t, http.MethodPost, "/api/conversations/"+conversationID+"/messages",
		nil, map[string]any{
			"senderId":          sender.ID,
			"senderDisplayName": sender.DisplayName,
			"senderType":        sender.Type,
			"content":           content,
		}, http.StatusCreated)

	var msg models.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

// GetMessages reads the conversation transcript through the customer surface.
func (app *TestApp) GetMessages(t *testing.T, conversationID string) []models.Message {
	t.Helper()
	raw := app.doJSON(t, http.MethodGet, "/api/conversations/"+conversationID+"/messages",
		nil, nil, http.StatusOK)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	return msgs
}

// GetAgentMessages reads the transcript through the agent surface, enforcing
// assignment.
func (app *TestApp) GetAgentMessages(t *testing.T, conversationID, agentID string) []models.Message {
	t.Helper()
	raw := app.doJSON(t, http.MethodGet,
		"/api/agent/conversations/"+conversationID+"/messages?agentId="+agentID,
		nil, nil, http.StatusOK)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	return msgs
}

// AgentQueue reads the first page of the pending queue.
func (app *TestApp) AgentQueue(t *testing.T) []models.QueueEntry {
	t.Helper()
	raw := app.doJSON(t, http.MethodGet, "/api/agent/queue", nil, nil, http.StatusOK)

	var entries []models.QueueEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	return entries
}

// AgentConversations lists the agent's conversations, optionally filtered by
// a comma-separated status list.
func (app *TestApp) AgentConversations(t *testing.T, agentID, statusCSV string) []*models.Conversation {
	t.Helper()
	path := "/api/agent/conversations?agentId=" + agentID
	if statusCSV != "" {
		path += "&status=" + statusCSV
	}
	raw := app.doJSON(t, http.MethodGet, path, nil, nil, http.StatusOK)

	var convs []*models.Conversation
	require.NoError(t, json.Unmarshal(raw, &convs))
	return convs
}

// CloseAsAgent ends the conversation on the agent's behalf.
func (app *TestApp) CloseAsAgent(t *testing.T, conversationID, agentID, displayName string) *models.Conversation {
	t.Helper()
	raw := app.doJSON(t, http.MethodPost, "/api/agent/conversations/"+conversationID+"/close",
		nil, map[string]any{"agentId": agentID, "displayName": displayName}, http.StatusOK)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	return &conv
}

// CloseAsCustomer ends the conversation on the customer's behalf.
func (app *TestApp) CloseAsCustomer(t *testing.T, conversationID, customerID string) *models.Conversation {
	t.Helper()
	raw := app.doJSON(t, http.MethodDelete, "/api/conversations/"+conversationID,
		customerHeaders(customerID, ""), nil, http.StatusOK)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	return &conv
}

// Health reads /health and returns the status code with the decoded body.
func (app *TestApp) Health(t *testing.T) (int, map[string]any) {
	t.Helper()
	status, raw := app.tryJSON(t, http.MethodGet, "/health", nil, nil)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return status, body
}
