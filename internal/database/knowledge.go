// internal/database/knowledge.go
package database

import (
	"context"

	"vaste-chatbot/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"
)

func (db *DB) CreateKnowledge(ctx context.Context, entry *models.KnowledgeEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

// RecentKnowledge returns up to limit entries for an agent, most recent first.
func (db *DB) RecentKnowledge(ctx context.Context, agentID string, limit int) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	query := db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}

// SimilarKnowledge orders an agent's embedded entries by L2 distance to embedding.
// Only available on postgres; see SupportsVectorSearch.
func (db *DB) SimilarKnowledge(ctx context.Context, agentID string, embedding []float32, limit int) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry

	vector := pgvector.NewVector(embedding)

	err := db.WithContext(ctx).
		Where("agent_id = ? AND embedding IS NOT NULL", agentID).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <-> ?", Vars: []interface{}{vector}, WithoutParentheses: true}}).
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (db *DB) DeleteKnowledge(ctx context.Context, id uint) error {
	res := db.WithContext(ctx).Delete(&models.KnowledgeEntry{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
