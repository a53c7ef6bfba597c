package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/middleware"
	"vaste-chatbot/internal/models"
	"vaste-chatbot/internal/rag"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "admin-secret"

type testServer struct {
	*httptest.Server
	db *database.DB
}

func newServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewDB(database.Options{Driver: database.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "admin.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := chi.NewRouter()
	NewHandler(db, rag.NewRAGRetriever(db, nil, rag.ModeRecent, 0), testKey, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.BackendKeyHeader, testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAdminRequiresBackendKey(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/admin/agents?ownerId=owner")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAgentLifecycle(t *testing.T) {
	srv := newServer(t)

	var created agentResponse
	status := srv.do(t, http.MethodPost, "/admin/agents", map[string]interface{}{
		"ownerId":     "owner-1",
		"name":        "  Support  ",
		"temperature": 3,
		"headerColor": "blue",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, models.ValidID(created.ID))
	assert.Equal(t, "Support", created.Name)
	assert.Equal(t, "👋 Hi there! I'm Support. How can I help you today?", created.WelcomeMessage)
	assert.Equal(t, models.DefaultSystemPrompt, created.SystemPrompt)
	assert.Equal(t, 1.0, created.Temperature)
	assert.Equal(t, models.DefaultHeaderColor, created.HeaderColor)

	var listed []agentResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/agents?ownerId=owner-1", nil, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	var updated agentResponse
	status = srv.do(t, http.MethodPut, "/admin/agents/"+created.ID, map[string]interface{}{
		"systemPrompt": "Answer briefly.",
		"accentColor":  "#112233",
	}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Support", updated.Name)
	assert.Equal(t, "Answer briefly.", updated.SystemPrompt)
	assert.Equal(t, "#112233", updated.AccentColor)

	var fetched agentResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/agents/"+created.ID, nil, &fetched))
	assert.Equal(t, "Answer briefly.", fetched.SystemPrompt)

	require.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, "/admin/agents/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/admin/agents/"+created.ID, nil, nil))
}

func TestAgentValidation(t *testing.T) {
	srv := newServer(t)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/admin/agents", map[string]string{"ownerId": "o", "name": " "}, nil))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/admin/agents", map[string]string{"name": "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/admin/agents", nil, nil))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/admin/agents/not-an-id", nil, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/admin/agents/"+models.NewID(), nil, nil))
}

func createAgent(t *testing.T, srv *testServer) string {
	t.Helper()

	var created agentResponse
	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/admin/agents", map[string]string{"ownerId": "owner", "name": "Helper"}, &created))
	return created.ID
}

func TestKnowledgeIngestion(t *testing.T) {
	srv := newServer(t)
	agentID := createAgent(t, srv)

	for i := 1; i <= 2; i++ {
		var entry knowledgeResponse
		status := srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/knowledge", map[string]string{
			"input":  fmt.Sprintf("doc-%d", i),
			"output": fmt.Sprintf("content %d", i),
		}, &entry)
		require.Equal(t, http.StatusCreated, status)
		assert.EqualValues(t, 9, entry.Metadata["length"])
		assert.False(t, entry.Embedded)
	}

	long := strings.Repeat("a", rag.MaxOutputLength+10)
	var big knowledgeResponse
	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/knowledge", map[string]string{"input": "big", "output": long}, &big))
	assert.Len(t, big.Output, rag.MaxOutputLength)

	var entries []knowledgeResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/agents/"+agentID+"/knowledge", nil, &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "big", entries[0].Input)
	assert.Equal(t, "doc-1", entries[2].Input)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/knowledge", map[string]string{"input": "x"}, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/admin/agents/"+models.NewID()+"/knowledge", map[string]string{"input": "x", "output": "y"}, nil))

	require.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, fmt.Sprintf("/admin/knowledge/%d", big.ID), nil, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodDelete, fmt.Sprintf("/admin/knowledge/%d", big.ID), nil, nil))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodDelete, "/admin/knowledge/abc", nil, nil))
}

func TestSessionHistory(t *testing.T) {
	srv := newServer(t)
	agentID := createAgent(t, srv)
	ctx := t.Context()

	session := &models.ChatSession{AgentID: agentID, UserID: models.AnonymousUserID}
	require.NoError(t, srv.db.CreateSession(ctx, session))
	require.NoError(t, srv.db.AppendMessage(ctx, &models.ChatMessage{SessionID: session.ID, Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, srv.db.AppendMessage(ctx, &models.ChatMessage{SessionID: session.ID, Role: models.RoleAssistant, Content: "hello"}))

	var sessions []sessionResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/agents/"+agentID+"/sessions", nil, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)

	var messages []messageResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/sessions/"+session.ID+"/messages", nil, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[1].Content)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/admin/sessions/"+models.NewID()+"/messages", nil, nil))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/admin/agents/"+agentID+"/sessions?limit=0", nil, nil))
}

func TestBotConfigManagement(t *testing.T) {
	srv := newServer(t)
	agentID := createAgent(t, srv)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/discord", map[string]string{"clientId": "c"}, nil))

	var created botConfigResponse
	status := srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/discord", map[string]string{"botToken": "token-1", "clientId": "c"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, created.Enabled)
	assert.True(t, created.HasToken)
	assert.Equal(t, agentID, created.AgentID)

	active, err := srv.db.ActiveBotConfigs(t.Context())
	require.NoError(t, err)
	require.Len(t, active, 1)

	var updated botConfigResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPut, "/admin/discord/"+created.ID, map[string]bool{"enabled": false}, &updated))
	assert.False(t, updated.Enabled)

	active, err = srv.db.ActiveBotConfigs(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active)

	var listed []botConfigResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/admin/agents/"+agentID+"/discord", nil, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPut, "/admin/discord/"+created.ID, map[string]string{"agentId": models.NewID()}, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPut, "/admin/discord/"+models.NewID(), map[string]bool{"enabled": true}, nil))
}

func TestDeleteAgentTakesBotsOffline(t *testing.T) {
	srv := newServer(t)
	agentID := createAgent(t, srv)

	var created botConfigResponse
	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/admin/agents/"+agentID+"/discord", map[string]string{"botToken": "token-1"}, &created))

	require.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, "/admin/agents/"+agentID, nil, nil))

	active, err := srv.db.ActiveBotConfigs(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active)
}
