package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vaste-chatbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createAgent(t *testing.T, db *DB) *models.Agent {
	t.Helper()

	agent := &models.Agent{OwnerID: "owner-1", Name: "Helper"}
	require.NoError(t, agent.Normalize())
	require.NoError(t, db.CreateAgent(context.Background(), agent))
	return agent
}

func TestAgentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	agent := createAgent(t, db)
	assert.True(t, models.ValidID(agent.ID))

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Helper", got.Name)
	assert.Equal(t, "owner-1", got.OwnerID)

	_, err = db.GetAgent(ctx, models.NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAgentCascadesKnowledge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	agent := createAgent(t, db)
	other := createAgent(t, db)
	require.NoError(t, db.CreateKnowledge(ctx, &models.KnowledgeEntry{AgentID: agent.ID, UserID: "u", Input: "a", Output: "x"}))
	require.NoError(t, db.CreateKnowledge(ctx, &models.KnowledgeEntry{AgentID: other.ID, UserID: "u", Input: "b", Output: "y"}))

	require.NoError(t, db.DeleteAgent(ctx, agent.ID))

	left, err := db.RecentKnowledge(ctx, agent.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	kept, err := db.RecentKnowledge(ctx, other.ID, 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.ErrorIs(t, db.DeleteAgent(ctx, agent.ID), ErrNotFound)
}

func TestDeleteAgentDisablesBotConfigs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	agent := createAgent(t, db)
	other := createAgent(t, db)
	cfg := &models.BotConfig{AgentID: agent.ID, BotToken: "token-a", Enabled: true}
	require.NoError(t, db.CreateBotConfig(ctx, cfg))
	require.NoError(t, db.CreateBotConfig(ctx, &models.BotConfig{AgentID: other.ID, BotToken: "token-b", Enabled: true}))

	require.NoError(t, db.DeleteAgent(ctx, agent.ID))

	active, err := db.ActiveBotConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.ID, active[0].AgentID)

	disabled, err := db.GetBotConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
}

func TestRecentKnowledgeIsNewestFirstAndBounded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := createAgent(t, db)

	for _, label := range []string{"first", "second", "third"} {
		require.NoError(t, db.CreateKnowledge(ctx, &models.KnowledgeEntry{AgentID: agent.ID, UserID: "u", Input: label, Output: label}))
	}

	entries, err := db.RecentKnowledge(ctx, agent.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Input)
	assert.Equal(t, "second", entries[1].Input)
}

func TestSessionMessagesKeepInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := createAgent(t, db)

	session := &models.ChatSession{AgentID: agent.ID, UserID: models.AnonymousUserID, LastActive: time.Now()}
	require.NoError(t, db.CreateSession(ctx, session))

	// Identical timestamps must not disturb the order.
	at := time.Now().UTC()
	contents := []string{"u1", "a1", "u2", "a2", "u3", "a3"}
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		require.NoError(t, db.AppendMessage(ctx, &models.ChatMessage{SessionID: session.ID, Role: role, Content: c, CreatedAt: at}))
	}

	messages, err := db.SessionMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, len(contents))
	for i, msg := range messages {
		assert.Equal(t, contents[i], msg.Content)
	}
}

func TestTouchSessionMissing(t *testing.T) {
	db := newTestDB(t)

	assert.ErrorIs(t, db.TouchSession(context.Background(), models.NewID(), time.Now()), ErrNotFound)
}

func TestLeaseConditionalUpdates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := createAgent(t, db)

	cfg := &models.BotConfig{AgentID: agent.ID, BotToken: "tok", Enabled: true}
	require.NoError(t, db.CreateBotConfig(ctx, cfg))
	before, err := db.GetBotConfig(ctx, cfg.ID)
	require.NoError(t, err)

	ok, err := db.AcquireLock(ctx, cfg.ID, "a", 1_000, 61_000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcquireLock(ctx, cfg.ID, "b", 2_000, 62_000)
	require.NoError(t, err)
	assert.False(t, ok, "unexpired lease held by another instance")

	ok, err = db.ExtendLock(ctx, cfg.ID, "b", 2_000, 62_000)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.ExtendLock(ctx, cfg.ID, "a", 30_000, 90_000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcquireLock(ctx, cfg.ID, "b", 90_001, 150_001)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is reclaimable")

	ok, err = db.ClearLock(ctx, cfg.ID, "a")
	require.NoError(t, err)
	assert.False(t, ok, "former holder cannot release")

	holder, expires, err := db.LockState(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", holder)
	assert.Equal(t, int64(150_001), expires)

	after, err := db.GetBotConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt.UnixNano(), after.UpdatedAt.UnixNano(), "lease traffic leaves updated_at alone")
	assert.Equal(t, int64(3), after.LockVersion)
}

func TestActiveBotConfigsAndStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	agent := createAgent(t, db)

	on := &models.BotConfig{AgentID: agent.ID, BotToken: "t1", Enabled: true}
	off := &models.BotConfig{AgentID: agent.ID, BotToken: "t2", Enabled: false}
	require.NoError(t, db.CreateBotConfig(ctx, on))
	require.NoError(t, db.CreateBotConfig(ctx, off))

	active, err := db.ActiveBotConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, on.ID, active[0].ID)

	seen := time.Now().UTC()
	require.NoError(t, db.UpdateBotStatus(ctx, on.ID, models.BotStatusRunning, &seen))
	got, err := db.GetBotConfig(ctx, on.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusRunning, got.Status)
	require.NotNil(t, got.LastSeen)

	assert.ErrorIs(t, db.UpdateBotStatus(ctx, models.NewID(), models.BotStatusRunning, nil), ErrNotFound)
}
