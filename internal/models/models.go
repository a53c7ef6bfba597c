// internal/models/models.go
package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles stored on ChatMessage.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// AnonymousUserID is the owner recorded on sessions opened by the embed widget or a bot runner.
const AnonymousUserID = "widget-user"

// Discord bot statuses reported by runners.
const (
	BotStatusRunning     = "running"
	BotStatusStopped     = "stopped"
	BotStatusError       = "error"
	BotStatusLoginFailed = "login_failed"
)

type Agent struct {
	ID              string `gorm:"primaryKey;size:32"`
	OwnerID         string `gorm:"index;not null"`
	Name            string `gorm:"not null"`
	WelcomeMessage  string `gorm:"type:text"`
	SystemPrompt    string `gorm:"type:text"`
	Temperature     float64
	HeaderColor     string
	AccentColor     string
	BackgroundColor string
	ProfileImage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Agent) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return nil
}

type ChatSession struct {
	ID         string            `gorm:"primaryKey;size:32"`
	AgentID    string            `gorm:"index;not null;size:32"`
	UserID     string            `gorm:"not null"`
	Metadata   datatypes.JSONMap `gorm:"type:json"`
	LastActive time.Time         `gorm:"not null"`
	CreatedAt  time.Time
}

func (s *ChatSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}

type ChatMessage struct {
	ID        uint              `gorm:"primaryKey"`
	SessionID string            `gorm:"index;not null;size:32"`
	Role      string            `gorm:"not null"`
	Content   string            `gorm:"type:text"`
	Metadata  datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time
}

type KnowledgeEntry struct {
	ID        uint              `gorm:"primaryKey"`
	AgentID   string            `gorm:"index;not null;size:32"`
	UserID    string            `gorm:"not null"`
	Input     string            `gorm:"type:text"`
	Output    string            `gorm:"type:text"`
	Metadata  datatypes.JSONMap `gorm:"type:json"`
	Embedding *pgvector.Vector  `gorm:"type:vector(1536)"` // OpenAI embedding size
	CreatedAt time.Time
}

// BotConfig is one Discord integration. LockHolder and LockExpiresAt (unix milliseconds)
// carry the runner lease; LockVersion increments on every lease mutation.
type BotConfig struct {
	ID            string `gorm:"primaryKey;size:32"`
	AgentID       string `gorm:"index;not null;size:32"`
	BotToken      string `gorm:"not null"`
	ClientID      string
	GuildID       string
	Enabled       bool `gorm:"index"`
	Status        string
	LastSeen      *time.Time
	LockHolder    string `gorm:"size:128"`
	LockExpiresAt int64
	LockVersion   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *BotConfig) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}
