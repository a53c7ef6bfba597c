// internal/widget/service.go
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vaste-chatbot/internal/ai"
	"vaste-chatbot/internal/clock"
	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/models"
)

var (
	ErrInvalidID       = errors.New("invalid agent id")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrSessionMismatch = errors.New("session does not belong to this agent")
)

// FallbackReply is returned to the user whenever the model call fails.
const FallbackReply = "Sorry, I had trouble generating a response."

const DefaultHistoryLimit = 50

// Store is the slice of the knowledge store the widget needs. Lookups of
// missing records return database.ErrNotFound.
type Store interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	TouchSession(ctx context.Context, id string, at time.Time) error
}

type KnowledgeSource interface {
	SearchRelevantContext(ctx context.Context, agentID, query string) (string, error)
}

type Generator interface {
	ChatCompletion(ctx context.Context, req ai.CompletionRequest) (string, error)
}

// AgentProfile is the public view of an agent. It never carries the owner.
type AgentProfile struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	WelcomeMessage  string  `json:"welcomeMessage"`
	SystemPrompt    string  `json:"systemPrompt"`
	Temperature     float64 `json:"temperature"`
	HeaderColor     string  `json:"headerColor,omitempty"`
	AccentColor     string  `json:"accentColor,omitempty"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	ProfileImage    string  `json:"profileImage,omitempty"`
}

func NewAgentProfile(a *models.Agent) AgentProfile {
	return AgentProfile{
		ID:              a.ID,
		Name:            a.Name,
		WelcomeMessage:  a.WelcomeMessage,
		SystemPrompt:    a.SystemPrompt,
		Temperature:     a.Temperature,
		HeaderColor:     a.HeaderColor,
		AccentColor:     a.AccentColor,
		BackgroundColor: a.BackgroundColor,
		ProfileImage:    a.ProfileImage,
	}
}

type Session struct {
	SessionID string       `json:"sessionId"`
	Agent     AgentProfile `json:"agent"`
}

type ChatRequest struct {
	SessionID string       `json:"sessionId"`
	AgentID   string       `json:"agentId"`
	Message   string       `json:"message"`
	History   []ai.Message `json:"history,omitempty"`
}

type ChatReply struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

type Options struct {
	HistoryLimit int
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Service struct {
	store        Store
	knowledge    KnowledgeSource
	generator    Generator
	historyLimit int
	clock        clock.Clock
	log          *slog.Logger
}

func NewService(store Store, knowledge KnowledgeSource, generator Generator, opts Options) *Service {
	s := &Service{
		store:        store,
		knowledge:    knowledge,
		generator:    generator,
		historyLimit: opts.HistoryLimit,
		clock:        opts.Clock,
		log:          opts.Logger,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// CreateSession opens an anonymous session on a public agent. metadata is
// stored as-is (user agent, client address).
func (s *Service) CreateSession(ctx context.Context, rawAgentID string, metadata map[string]interface{}) (*Session, error) {
	agentID := models.NormalizeID(rawAgentID)
	if agentID == "" {
		return nil, fmt.Errorf("%w: agentId is required", ErrInvalidID)
	}
	if !models.ValidID(agentID) {
		return nil, fmt.Errorf("%w: malformed agentId", ErrInvalidID)
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, lookupErr("agent", err)
	}

	now := s.clock.Now()
	session := &models.ChatSession{
		AgentID:    agent.ID,
		UserID:     models.AnonymousUserID,
		Metadata:   metadata,
		LastActive: now,
		CreatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Info("Widget session created", "session_id", session.ID, "agent_id", agent.ID)
	return &Session{SessionID: session.ID, Agent: NewAgentProfile(agent)}, nil
}

// Chat runs one turn. The user message is stored before the model is called
// and the reply after it, so a session's messages always read back in call
// order. Provider failures degrade to FallbackReply.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	agentID := models.NormalizeID(req.AgentID)
	message := strings.TrimSpace(req.Message)
	if sessionID == "" || agentID == "" || message == "" {
		return nil, fmt.Errorf("%w: sessionId, agentId, and message are required", ErrInvalidInput)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, lookupErr("session", err)
	}
	if session.AgentID != agentID {
		s.log.Warn("Session used with a different agent", "session_id", sessionID, "agent_id", agentID)
		return nil, ErrSessionMismatch
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, lookupErr("agent", err)
	}

	knowledge, err := s.knowledge.SearchRelevantContext(ctx, agentID, message)
	if err != nil {
		s.log.Warn("Knowledge lookup failed, answering without it", "agent_id", agentID, "error", err)
		knowledge = ""
	}

	if err := s.append(ctx, sessionID, models.RoleUser, message, nil); err != nil {
		return nil, err
	}

	messages := make([]ai.Message, 0, len(req.History)+2)
	messages = append(messages, ai.Message{Role: models.RoleSystem, Content: agent.SystemPrompt + knowledge})
	messages = append(messages, s.history(req.History)...)
	messages = append(messages, ai.Message{Role: models.RoleUser, Content: message})

	// The reply and the activity bump are stored even if the caller has gone
	// away, so the session never ends on an unanswered user turn.
	persistCtx := context.WithoutCancel(ctx)

	var metadata map[string]interface{}
	reply, err := s.generator.ChatCompletion(ctx, ai.CompletionRequest{
		Messages:    messages,
		Temperature: agent.Temperature,
	})
	if err != nil {
		s.log.Error("Reply generation failed", "session_id", sessionID, "agent_id", agentID, "error", err)
		reply = FallbackReply
		metadata = map[string]interface{}{"fallback": true}
	}

	if err := s.append(persistCtx, sessionID, models.RoleAssistant, reply, metadata); err != nil {
		return nil, err
	}

	if err := s.store.TouchSession(persistCtx, sessionID, s.clock.Now()); err != nil {
		s.log.Warn("Failed to update session activity", "session_id", sessionID, "error", err)
	}

	return &ChatReply{Reply: reply, SessionID: sessionID}, nil
}

func (s *Service) append(ctx context.Context, sessionID, role, content string, metadata map[string]interface{}) error {
	msg := &models.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to store %s message: %w", role, err)
	}
	return nil
}

// history keeps the caller's user and assistant turns, newest last, bounded
// by historyLimit. System turns from the caller are dropped.
func (s *Service) history(in []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(in))
	for _, m := range in {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) > s.historyLimit {
		out = out[len(out)-s.historyLimit:]
	}
	return out
}

func lookupErr(what string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
