package coordination

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/lock"
	"vaste-chatbot/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "shared-secret"

func newServer(t *testing.T) (*httptest.Server, *database.DB) {
	t.Helper()

	db, err := database.NewDB(database.Options{Driver: database.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "coord.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := chi.NewRouter()
	NewHandler(db, lock.NewService(db, nil, nil), testKey, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, db
}

func createConfig(t *testing.T, db *database.DB, token string, enabled bool) *models.BotConfig {
	t.Helper()

	cfg := &models.BotConfig{AgentID: models.NewID(), BotToken: token, ClientID: "client", Enabled: enabled}
	require.NoError(t, db.CreateBotConfig(context.Background(), cfg))
	return cfg
}

func TestRejectsWrongBackendKey(t *testing.T) {
	srv, _ := newServer(t)

	_, err := NewClient(srv.URL, "wrong", time.Second).ActiveConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	resp, err := http.Get(srv.URL + "/discord/bot/activeConfigs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestActiveConfigs(t *testing.T) {
	srv, db := newServer(t)
	active := createConfig(t, db, "token-a", true)
	createConfig(t, db, "token-b", false)

	configs, err := NewClient(srv.URL, testKey, time.Second).ActiveConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, active.ID, configs[0].ID)
	assert.Equal(t, active.AgentID, configs[0].AgentID)
	assert.Equal(t, "token-a", configs[0].BotToken)
	assert.Equal(t, active.UpdatedAt.UnixMilli(), configs[0].UpdatedAt)
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	srv, db := newServer(t)
	cfg := createConfig(t, db, "token", true)
	ctx := context.Background()

	a := NewClient(srv.URL, testKey, time.Second)
	b := NewClient(srv.URL, testKey, time.Second)

	ok, err := a.Claim(ctx, cfg.ID, "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Claim(ctx, cfg.ID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Renew(ctx, cfg.ID, "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Renew(ctx, cfg.ID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, cfg.ID, "instance-b"))
	require.NoError(t, a.Release(ctx, cfg.ID, "instance-a"))

	ok, err = b.Claim(ctx, cfg.ID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimValidation(t *testing.T) {
	srv, db := newServer(t)
	cfg := createConfig(t, db, "token", true)
	client := NewClient(srv.URL, testKey, time.Second)

	_, err := client.Claim(context.Background(), cfg.ID, "instance-a", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	_, err = client.Claim(context.Background(), models.NewID(), "instance-a", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/discord/bot/claim", strings.NewReader(`{"configId": 7}`))
	require.NoError(t, err)
	req.Header.Set("x-backend-key", testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatus(t *testing.T) {
	srv, db := newServer(t)
	cfg := createConfig(t, db, "token", true)
	client := NewClient(srv.URL, testKey, time.Second)
	ctx := context.Background()

	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, client.UpdateStatus(ctx, cfg.ID, models.BotStatusRunning, seen))

	got, err := db.GetBotConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusRunning, got.Status)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(seen))

	err = client.UpdateStatus(ctx, cfg.ID, "sleeping", seen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
