// internal/database/agents.go
package database

import (
	"context"
	"fmt"
	"time"

	"vaste-chatbot/internal/models"

	"gorm.io/gorm"
)

func (db *DB) CreateAgent(ctx context.Context, agent *models.Agent) error {
	return db.WithContext(ctx).Create(agent).Error
}

// GetAgent is the public, ownership-free lookup used by the widget.
func (db *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	if err := db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &agent, nil
}

func (db *DB) ListAgentsByOwner(ctx context.Context, ownerID string) ([]models.Agent, error) {
	var agents []models.Agent
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&agents).Error
	return agents, err
}

func (db *DB) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	res := db.WithContext(ctx).Model(&models.Agent{}).
		Where("id = ?", agent.ID).
		Select("name", "welcome_message", "system_prompt", "temperature",
			"header_color", "accent_color", "background_color", "profile_image", "updated_at").
		Updates(agent)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes the agent together with its knowledge entries and
// disables its bot configs so runners take the bots offline.
func (db *DB) DeleteAgent(ctx context.Context, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&models.KnowledgeEntry{}).Error; err != nil {
			return fmt.Errorf("delete knowledge: %w", err)
		}
		err := tx.Model(&models.BotConfig{}).
			Where("agent_id = ? AND enabled = ?", id, true).
			Updates(map[string]interface{}{"enabled": false, "updated_at": time.Now()}).Error
		if err != nil {
			return fmt.Errorf("disable bot configs: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Agent{})
		if res.Error != nil {
			return fmt.Errorf("delete agent: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
