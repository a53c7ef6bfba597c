// internal/database/sessions.go
package database

import (
	"context"
	"time"

	"vaste-chatbot/internal/models"
)

func (db *DB) CreateSession(ctx context.Context, session *models.ChatSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (db *DB) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (db *DB) TouchSession(ctx context.Context, id string, at time.Time) error {
	res := db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", id).
		Update("last_active", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) ListSessionsByAgent(ctx context.Context, agentID string, limit int) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	query := db.WithContext(ctx).Where("agent_id = ?", agentID).Order("last_active DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&sessions).Error
	return sessions, err
}

func (db *DB) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	return db.WithContext(ctx).Create(msg).Error
}

// SessionMessages returns a session's messages in insertion order.
func (db *DB) SessionMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}
