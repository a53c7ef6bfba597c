// internal/database/discord.go
package database

import (
	"context"
	"time"

	"vaste-chatbot/internal/models"

	"gorm.io/gorm"
)

func (db *DB) CreateBotConfig(ctx context.Context, cfg *models.BotConfig) error {
	return db.WithContext(ctx).Create(cfg).Error
}

func (db *DB) GetBotConfig(ctx context.Context, id string) (*models.BotConfig, error) {
	var cfg models.BotConfig
	if err := db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

// UpdateBotConfig rewrites the user-editable fields and bumps updated_at,
// which is what runners use to pick between configs sharing a token.
func (db *DB) UpdateBotConfig(ctx context.Context, cfg *models.BotConfig) error {
	res := db.WithContext(ctx).Model(&models.BotConfig{}).
		Where("id = ?", cfg.ID).
		Select("agent_id", "bot_token", "client_id", "guild_id", "enabled", "updated_at").
		Updates(cfg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) ListBotConfigs(ctx context.Context, agentID string) ([]models.BotConfig, error) {
	var configs []models.BotConfig
	err := db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("updated_at DESC").
		Find(&configs).Error
	return configs, err
}

func (db *DB) ActiveBotConfigs(ctx context.Context) ([]models.BotConfig, error) {
	var configs []models.BotConfig
	err := db.WithContext(ctx).Where("enabled = ?", true).Find(&configs).Error
	return configs, err
}

// UpdateBotStatus records a runner-reported status without touching updated_at.
func (db *DB) UpdateBotStatus(ctx context.Context, id, status string, lastSeen *time.Time) error {
	columns := map[string]interface{}{"status": status}
	if lastSeen != nil {
		columns["last_seen"] = *lastSeen
	}
	res := db.WithContext(ctx).Model(&models.BotConfig{}).Where("id = ?", id).UpdateColumns(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// The lease methods below are single conditional UPDATE statements: the row is
// only written when the WHERE clause still holds, so the check and the write are
// one atomic step and concurrent callers observe exactly one winner.
// UpdateColumns is used so lease traffic never changes updated_at.

// AcquireLock takes the lease when it is free, already held by holder, or expired at nowMs.
func (db *DB) AcquireLock(ctx context.Context, id, holder string, nowMs, expiresAtMs int64) (bool, error) {
	res := db.WithContext(ctx).Model(&models.BotConfig{}).
		Where("id = ?", id).
		Where("(lock_holder = '' OR lock_holder IS NULL OR lock_holder = ? OR lock_expires_at < ?)", holder, nowMs).
		UpdateColumns(map[string]interface{}{
			"lock_holder":     holder,
			"lock_expires_at": expiresAtMs,
			"lock_version":    gorm.Expr("lock_version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

// ExtendLock moves the expiry forward only while holder still owns an unexpired lease.
func (db *DB) ExtendLock(ctx context.Context, id, holder string, nowMs, expiresAtMs int64) (bool, error) {
	res := db.WithContext(ctx).Model(&models.BotConfig{}).
		Where("id = ? AND lock_holder = ? AND lock_expires_at >= ?", id, holder, nowMs).
		UpdateColumns(map[string]interface{}{
			"lock_expires_at": expiresAtMs,
			"lock_version":    gorm.Expr("lock_version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

// ClearLock drops the lease if holder owns it, expired or not.
func (db *DB) ClearLock(ctx context.Context, id, holder string) (bool, error) {
	res := db.WithContext(ctx).Model(&models.BotConfig{}).
		Where("id = ? AND lock_holder = ?", id, holder).
		UpdateColumns(map[string]interface{}{
			"lock_holder":     "",
			"lock_expires_at": 0,
			"lock_version":    gorm.Expr("lock_version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (db *DB) LockState(ctx context.Context, id string) (string, int64, error) {
	var cfg models.BotConfig
	err := db.WithContext(ctx).
		Select("id", "lock_holder", "lock_expires_at").
		First(&cfg, "id = ?", id).Error
	if err != nil {
		return "", 0, notFound(err)
	}
	return cfg.LockHolder, cfg.LockExpiresAt, nil
}
