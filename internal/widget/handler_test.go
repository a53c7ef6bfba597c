package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"vaste-chatbot/internal/ai"
	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/middleware"
	"vaste-chatbot/internal/models"
	"vaste-chatbot/internal/rag"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStubServer serves the widget routes backed by sqlite and the stub model.
func newStubServer(t *testing.T) (*httptest.Server, *database.DB) {
	t.Helper()

	db, err := database.NewDB(database.Options{Driver: database.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "widget.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, rag.NewRAGRetriever(db, nil, rag.ModeRecent, 20), ai.NewAIService(ai.Options{}), Options{})
	r := chi.NewRouter()
	NewHandler(svc, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, db
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestWidgetProtocolEndToEnd(t *testing.T) {
	srv, db := newStubServer(t)

	resp, _ := postJSON(t, srv.URL+"/session", map[string]string{"agentId": strings.Repeat("a", 32)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	agent := &models.Agent{OwnerID: "owner", Name: "Helper"}
	require.NoError(t, agent.Normalize())
	require.NoError(t, db.CreateAgent(context.Background(), agent))
	other := &models.Agent{OwnerID: "owner", Name: "Other"}
	require.NoError(t, other.Normalize())
	require.NoError(t, db.CreateAgent(context.Background(), other))

	resp, body := postJSON(t, srv.URL+"/session", map[string]string{"agentId": agent.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID, _ := body["sessionId"].(string)
	require.NotEmpty(t, sessionID)
	profile, _ := body["agent"].(map[string]interface{})
	assert.Equal(t, "Helper", profile["name"])
	assert.NotContains(t, profile, "ownerId")

	resp, body = postJSON(t, srv.URL+"/chat", map[string]string{"sessionId": sessionID, "agentId": agent.ID, "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AI (stub): hi", body["reply"])
	assert.Equal(t, sessionID, body["sessionId"])

	resp, _ = postJSON(t, srv.URL+"/chat", map[string]string{"sessionId": sessionID, "agentId": other.ID, "message": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/chat", map[string]string{"sessionId": sessionID, "agentId": agent.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/chat", map[string]string{"sessionId": models.NewID(), "agentId": agent.ID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionBadRequests(t *testing.T) {
	srv, _ := newStubServer(t)

	resp, _ := postJSON(t, srv.URL+"/chat/widget/session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/api/chat/widget/session", map[string]string{"agentId": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/session", map[string]int{"agentId": 42})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	srv, _ := newStubServer(t)

	for _, path := range []string{"/session", "/chat", "/chat/widget/chat", "/api/chat/widget/session"} {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv, db := newStubServer(t)
	ctx := context.Background()

	agent := &models.Agent{OwnerID: "owner", Name: "Helper"}
	require.NoError(t, agent.Normalize())
	require.NoError(t, db.CreateAgent(ctx, agent))

	client := NewClient(srv.URL+"/", "", 0)

	session, err := client.CreateSession(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Helper", session.Agent.Name)

	reply, err := client.Chat(ctx, ChatRequest{SessionID: session.SessionID, AgentID: agent.ID, Message: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "AI (stub): ping", reply.Reply)

	_, err = client.Chat(ctx, ChatRequest{SessionID: models.NewID(), AgentID: agent.ID, Message: "ping"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.CreateSession(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTrustedClientIsNotRateLimited(t *testing.T) {
	db, err := database.NewDB(database.Options{Driver: database.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "widget.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	agent := &models.Agent{OwnerID: "owner", Name: "Helper"}
	require.NoError(t, agent.Normalize())
	require.NoError(t, db.CreateAgent(ctx, agent))

	svc := NewService(db, rag.NewRAGRetriever(db, nil, rag.ModeRecent, 20), ai.NewAIService(ai.Options{}), Options{})
	limiter := middleware.NewRateLimiter(0.001, 2).TrustBackendKey("runner-secret")
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		NewHandler(svc, nil).RegisterRoutes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	runner := NewClient(srv.URL, "runner-secret", 0)
	for i := 0; i < 12; i++ {
		session, err := runner.CreateSession(ctx, agent.ID)
		require.NoError(t, err)
		_, err = runner.Chat(ctx, ChatRequest{SessionID: session.SessionID, AgentID: agent.ID, Message: "hi"})
		require.NoError(t, err)
	}

	anonymous := NewClient(srv.URL, "", 0)
	_, err = anonymous.CreateSession(ctx, agent.ID)
	require.NoError(t, err)
	_, err = anonymous.CreateSession(ctx, agent.ID)
	require.NoError(t, err)
	_, err = anonymous.CreateSession(ctx, agent.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
