// Package coordination is the HTTP protocol between the backend and the
// Discord bot runner fleet: the active config list, lease operations and
// status reports.
package coordination

import (
	"fmt"
	"strings"

	"vaste-chatbot/internal/models"
)

// BotConfig is the runner's view of one active Discord integration.
type BotConfig struct {
	ID        string `json:"_id"`
	AgentID   string `json:"agentId"`
	BotToken  string `json:"botToken"`
	ClientID  string `json:"clientId"`
	GuildID   string `json:"guildId,omitempty"`
	UpdatedAt int64  `json:"updatedAt"` // unix milliseconds
}

func NewBotConfig(c *models.BotConfig) BotConfig {
	return BotConfig{
		ID:        c.ID,
		AgentID:   c.AgentID,
		BotToken:  c.BotToken,
		ClientID:  c.ClientID,
		GuildID:   c.GuildID,
		UpdatedAt: c.UpdatedAt.UnixMilli(),
	}
}

type LockRequest struct {
	ConfigID   string `json:"configId"`
	InstanceID string `json:"instanceId"`
	TTLMs      int64  `json:"ttlMs"`
}

func (r LockRequest) validate() error {
	if strings.TrimSpace(r.ConfigID) == "" || strings.TrimSpace(r.InstanceID) == "" {
		return fmt.Errorf("configId and instanceId are required")
	}
	if r.TTLMs <= 0 || r.TTLMs > maxTTLMs {
		return fmt.Errorf("ttlMs must be between 1 and %d", maxTTLMs)
	}
	return nil
}

type LockResult struct {
	OK        bool   `json:"ok"`
	Holder    string `json:"holder,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type ReleaseRequest struct {
	ConfigID   string `json:"configId"`
	InstanceID string `json:"instanceId"`
}

type ReleaseResult struct {
	OK       bool `json:"ok"`
	Released bool `json:"released"`
}

type StatusRequest struct {
	ConfigID string `json:"configId"`
	Status   string `json:"status"`
	LastSeen *int64 `json:"lastSeen,omitempty"` // unix milliseconds
}

func (r StatusRequest) validate() error {
	if strings.TrimSpace(r.ConfigID) == "" {
		return fmt.Errorf("configId is required")
	}
	switch r.Status {
	case models.BotStatusRunning, models.BotStatusStopped, models.BotStatusError, models.BotStatusLoginFailed:
		return nil
	}
	return fmt.Errorf("unknown status %q", r.Status)
}
