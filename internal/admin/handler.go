// Package admin exposes the management API: agents, knowledge, session
// history and Discord bot configs. Every route sits behind the backend key.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vaste-chatbot/internal/api"
	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/middleware"
	"vaste-chatbot/internal/models"
	"vaste-chatbot/internal/rag"

	"github.com/go-chi/chi/v5"
)

const defaultSessionLimit = 50

var errInvalidInput = errors.New("invalid input")

type Store interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgentsByOwner(ctx context.Context, ownerID string) ([]models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error

	RecentKnowledge(ctx context.Context, agentID string, limit int) ([]models.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id uint) error

	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessionsByAgent(ctx context.Context, agentID string, limit int) ([]models.ChatSession, error)
	SessionMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	CreateBotConfig(ctx context.Context, cfg *models.BotConfig) error
	GetBotConfig(ctx context.Context, id string) (*models.BotConfig, error)
	UpdateBotConfig(ctx context.Context, cfg *models.BotConfig) error
	ListBotConfigs(ctx context.Context, agentID string) ([]models.BotConfig, error)
}

// KnowledgeWriter ingests knowledge entries, embedding them when enabled.
type KnowledgeWriter interface {
	StoreKnowledge(ctx context.Context, entry *models.KnowledgeEntry) error
}

type Handler struct {
	store      Store
	knowledge  KnowledgeWriter
	backendKey string
	log        *slog.Logger
}

func NewHandler(store Store, knowledge KnowledgeWriter, backendKey string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, knowledge: knowledge, backendKey: backendKey, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.BackendKey(h.backendKey))

		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.CreateAgent)
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", h.GetAgent)
			r.Put("/", h.UpdateAgent)
			r.Delete("/", h.DeleteAgent)

			r.Get("/knowledge", h.ListKnowledge)
			r.Post("/knowledge", h.AddKnowledge)
			r.Get("/sessions", h.ListSessions)
			r.Get("/discord", h.ListBotConfigs)
			r.Post("/discord", h.CreateBotConfig)
		})
		r.Delete("/knowledge/{entryID}", h.DeleteKnowledge)
		r.Get("/sessions/{sessionID}/messages", h.SessionMessages)
		r.Put("/discord/{configID}", h.UpdateBotConfig)
	})
}

// Agents

type agentRequest struct {
	OwnerID         string   `json:"ownerId"`
	Name            *string  `json:"name"`
	WelcomeMessage  *string  `json:"welcomeMessage"`
	SystemPrompt    *string  `json:"systemPrompt"`
	Temperature     *float64 `json:"temperature"`
	HeaderColor     *string  `json:"headerColor"`
	AccentColor     *string  `json:"accentColor"`
	BackgroundColor *string  `json:"backgroundColor"`
	ProfileImage    *string  `json:"profileImage"`
}

// apply copies the fields present in the request onto agent.
func (req *agentRequest) apply(agent *models.Agent) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&agent.Name, req.Name)
	set(&agent.WelcomeMessage, req.WelcomeMessage)
	set(&agent.SystemPrompt, req.SystemPrompt)
	set(&agent.HeaderColor, req.HeaderColor)
	set(&agent.AccentColor, req.AccentColor)
	set(&agent.BackgroundColor, req.BackgroundColor)
	set(&agent.ProfileImage, req.ProfileImage)
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	}
}

type agentResponse struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Name            string    `json:"name"`
	WelcomeMessage  string    `json:"welcomeMessage"`
	SystemPrompt    string    `json:"systemPrompt"`
	Temperature     float64   `json:"temperature"`
	HeaderColor     string    `json:"headerColor"`
	AccentColor     string    `json:"accentColor"`
	BackgroundColor string    `json:"backgroundColor"`
	ProfileImage    string    `json:"profileImage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func newAgentResponse(a *models.Agent) agentResponse {
	return agentResponse{
		ID:              a.ID,
		OwnerID:         a.OwnerID,
		Name:            a.Name,
		WelcomeMessage:  a.WelcomeMessage,
		SystemPrompt:    a.SystemPrompt,
		Temperature:     a.Temperature,
		HeaderColor:     a.HeaderColor,
		AccentColor:     a.AccentColor,
		BackgroundColor: a.BackgroundColor,
		ProfileImage:    a.ProfileImage,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
	if ownerID == "" {
		api.Error(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	agents, err := h.store.ListAgentsByOwner(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for i := range agents {
		out = append(out, newAgentResponse(&agents[i]))
	}
	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		api.Error(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	agent := &models.Agent{OwnerID: strings.TrimSpace(req.OwnerID), Temperature: models.DefaultTemperature}
	req.apply(agent)
	if err := agent.Normalize(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateAgent(r.Context(), agent); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("Agent created", "agent_id", agent.ID)
	api.JSON(w, http.StatusCreated, newAgentResponse(agent))
}

func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agent(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, newAgentResponse(agent))
}

func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agent(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req agentRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.apply(agent)
	if err := agent.Normalize(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	agent.UpdatedAt = time.Now()

	if err := h.store.UpdateAgent(r.Context(), agent); err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, newAgentResponse(agent))
}

func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.DeleteAgent(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("Agent deleted", "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Knowledge

type knowledgeRequest struct {
	UserID   string                 `json:"userId"`
	Input    string                 `json:"input"`
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata"`
}

type knowledgeResponse struct {
	ID        uint                   `json:"id"`
	AgentID   string                 `json:"agentId"`
	Input     string                 `json:"input"`
	Output    string                 `json:"output"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Embedded  bool                   `json:"embedded"`
	CreatedAt time.Time              `json:"createdAt"`
}

func newKnowledgeResponse(e *models.KnowledgeEntry) knowledgeResponse {
	return knowledgeResponse{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Input:     e.Input,
		Output:    e.Output,
		Metadata:  e.Metadata,
		Embedded:  e.Embedding != nil,
		CreatedAt: e.CreatedAt,
	}
}

func (h *Handler) ListKnowledge(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.store.RecentKnowledge(r.Context(), id, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]knowledgeResponse, 0, len(entries))
	for i := range entries {
		out = append(out, newKnowledgeResponse(&entries[i]))
	}
	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) AddKnowledge(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agent(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req knowledgeRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := &models.KnowledgeEntry{
		AgentID:  agent.ID,
		UserID:   valueOr(req.UserID, agent.OwnerID),
		Input:    strings.TrimSpace(req.Input),
		Output:   req.Output,
		Metadata: req.Metadata,
	}
	if err := h.knowledge.StoreKnowledge(r.Context(), entry); err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, newKnowledgeResponse(entry))
}

func (h *Handler) DeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid knowledge entry id")
		return
	}
	if err := h.store.DeleteKnowledge(r.Context(), uint(id)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions

type sessionResponse struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agentId"`
	UserID     string                 `json:"userId"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	LastActive time.Time              `json:"lastActive"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type messageResponse struct {
	ID        uint                   `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.store.ListSessionsByAgent(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:         s.ID,
			AgentID:    s.AgentID,
			UserID:     s.UserID,
			Metadata:   s.Metadata,
			LastActive: s.LastActive,
			CreatedAt:  s.CreatedAt,
		})
	}
	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	id := models.NormalizeID(chi.URLParam(r, "sessionID"))
	if !models.ValidID(id) {
		api.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	messages, err := h.store.SessionMessages(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		})
	}
	api.JSON(w, http.StatusOK, out)
}

// Discord configs

type botConfigRequest struct {
	AgentID  *string `json:"agentId"`
	BotToken *string `json:"botToken"`
	ClientID *string `json:"clientId"`
	GuildID  *string `json:"guildId"`
	Enabled  *bool   `json:"enabled"`
}

// botConfigResponse never carries the bot token.
type botConfigResponse struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agentId"`
	ClientID  string     `json:"clientId"`
	GuildID   string     `json:"guildId,omitempty"`
	Enabled   bool       `json:"enabled"`
	Status    string     `json:"status,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	HasToken  bool       `json:"hasToken"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func newBotConfigResponse(c *models.BotConfig) botConfigResponse {
	return botConfigResponse{
		ID:        c.ID,
		AgentID:   c.AgentID,
		ClientID:  c.ClientID,
		GuildID:   c.GuildID,
		Enabled:   c.Enabled,
		Status:    c.Status,
		LastSeen:  c.LastSeen,
		HasToken:  c.BotToken != "",
		UpdatedAt: c.UpdatedAt,
	}
}

func (h *Handler) ListBotConfigs(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	configs, err := h.store.ListBotConfigs(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]botConfigResponse, 0, len(configs))
	for i := range configs {
		out = append(out, newBotConfigResponse(&configs[i]))
	}
	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) CreateBotConfig(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agent(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req botConfigRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BotToken == nil || strings.TrimSpace(*req.BotToken) == "" {
		api.Error(w, http.StatusBadRequest, "botToken is required")
		return
	}

	cfg := &models.BotConfig{AgentID: agent.ID, Enabled: true}
	req.apply(cfg)
	cfg.AgentID = agent.ID

	if err := h.store.CreateBotConfig(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("Bot config created", "config_id", cfg.ID, "agent_id", cfg.AgentID)
	api.JSON(w, http.StatusCreated, newBotConfigResponse(cfg))
}

func (h *Handler) UpdateBotConfig(w http.ResponseWriter, r *http.Request) {
	id := models.NormalizeID(chi.URLParam(r, "configID"))
	if !models.ValidID(id) {
		api.Error(w, http.StatusBadRequest, "invalid config id")
		return
	}
	cfg, err := h.store.GetBotConfig(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req botConfigRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.apply(cfg)
	if strings.TrimSpace(cfg.BotToken) == "" {
		api.Error(w, http.StatusBadRequest, "botToken cannot be empty")
		return
	}
	if req.AgentID != nil {
		if _, err := h.store.GetAgent(r.Context(), cfg.AgentID); err != nil {
			h.writeError(w, err)
			return
		}
	}
	cfg.UpdatedAt = time.Now()

	if err := h.store.UpdateBotConfig(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, newBotConfigResponse(cfg))
}

func (req *botConfigRequest) apply(cfg *models.BotConfig) {
	if req.AgentID != nil {
		cfg.AgentID = models.NormalizeID(*req.AgentID)
	}
	if req.BotToken != nil {
		cfg.BotToken = strings.TrimSpace(*req.BotToken)
	}
	if req.ClientID != nil {
		cfg.ClientID = strings.TrimSpace(*req.ClientID)
	}
	if req.GuildID != nil {
		cfg.GuildID = strings.TrimSpace(*req.GuildID)
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
}

func (h *Handler) agent(r *http.Request) (*models.Agent, error) {
	id, err := agentID(r)
	if err != nil {
		return nil, err
	}
	return h.store.GetAgent(r.Context(), id)
}

func agentID(r *http.Request) (string, error) {
	id := models.NormalizeID(chi.URLParam(r, "agentID"))
	if !models.ValidID(id) {
		return "", errInvalidInput
	}
	return id, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidInput):
		api.Error(w, http.StatusBadRequest, "invalid agent id")
	case errors.Is(err, rag.ErrInvalidInput):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		api.Error(w, http.StatusNotFound, "not found")
	default:
		h.log.Error("Admin request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
