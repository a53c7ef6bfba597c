// internal/bot/handler.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vaste-chatbot/internal/coordination"
	"vaste-chatbot/internal/models"
	"vaste-chatbot/internal/widget"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

const emptyMentionReply = "Hi! How can I help you?"

// Chatter is the session/chat protocol, normally a *widget.Client.
type Chatter interface {
	CreateSession(ctx context.Context, agentID string) (*widget.Session, error)
	Chat(ctx context.Context, req widget.ChatRequest) (*widget.ChatReply, error)
}

// Inbound is a platform-neutral view of a received message.
type Inbound struct {
	ID        string
	ChannelID string
	GuildID   string // empty for direct messages
	AuthorBot bool
	Content   string
	Mentioned bool
	BotUserID string
}

func (m Inbound) direct() bool {
	return m.GuildID == ""
}

// Replier sends output back to the channel an Inbound came from.
type Replier interface {
	Typing(channelID string) error
	Reply(in Inbound, content string) error
}

// Handler answers direct messages and mentions for one bot config. It keeps
// one chat session per channel.
type Handler struct {
	cfg    coordination.BotConfig
	chat   Chatter
	status StatusReporter
	dedup  *Deduper
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]string // channel id -> session id
}

func NewHandler(cfg coordination.BotConfig, chat Chatter, status StatusReporter, dedup *Deduper, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		chat:     chat,
		status:   status,
		dedup:    dedup,
		log:      log.With("config_id", cfg.ID),
		sessions: make(map[string]string),
	}
}

// Handle processes one inbound message. Failures are recorded as the config's
// error status and never answered in the channel.
func (h *Handler) Handle(ctx context.Context, in Inbound, out Replier) {
	if in.AuthorBot {
		return
	}
	if !in.direct() && !in.Mentioned {
		return
	}
	if !h.dedup.FirstSeen(h.cfg.ID + ":" + in.ID) {
		h.log.Debug("Skipping duplicate message", "message_id", in.ID)
		return
	}

	query := stripMention(in.Content, in.BotUserID)
	if query == "" {
		if in.Mentioned {
			h.send(in, out, emptyMentionReply)
		}
		return
	}

	if err := out.Typing(in.ChannelID); err != nil {
		h.log.Debug("Typing indicator failed", "channel_id", in.ChannelID, "error", err)
	}

	reply, err := h.ask(ctx, in.ChannelID, query)
	if err != nil {
		h.log.Error("Message handler failed", "message_id", in.ID, "channel_id", in.ChannelID, "error", err)
		h.report(ctx, models.BotStatusError)
		return
	}

	if err := h.send(in, out, reply); err != nil {
		h.report(ctx, models.BotStatusError)
		return
	}
	h.report(ctx, models.BotStatusRunning)
}

// ask runs one chat turn on the channel's session, opening a new session when
// none exists or the backend no longer accepts the cached one.
func (h *Handler) ask(ctx context.Context, channelID, query string) (string, error) {
	sessionID, err := h.session(ctx, channelID, false)
	if err != nil {
		return "", err
	}

	reply, err := h.chat.Chat(ctx, widget.ChatRequest{SessionID: sessionID, AgentID: h.cfg.AgentID, Message: query})
	if errors.Is(err, widget.ErrNotFound) || errors.Is(err, widget.ErrSessionMismatch) {
		if sessionID, err = h.session(ctx, channelID, true); err != nil {
			return "", err
		}
		reply, err = h.chat.Chat(ctx, widget.ChatRequest{SessionID: sessionID, AgentID: h.cfg.AgentID, Message: query})
	}
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return reply.Reply, nil
}

func (h *Handler) session(ctx context.Context, channelID string, fresh bool) (string, error) {
	h.mu.Lock()
	id, ok := h.sessions[channelID]
	h.mu.Unlock()
	if ok && !fresh {
		return id, nil
	}

	session, err := h.chat.CreateSession(ctx, h.cfg.AgentID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	h.mu.Lock()
	h.sessions[channelID] = session.SessionID
	h.mu.Unlock()
	h.log.Info("Opened chat session", "channel_id", channelID, "session_id", session.SessionID)
	return session.SessionID, nil
}

func (h *Handler) send(in Inbound, out Replier, content string) error {
	for _, chunk := range splitMessage(content, MaxMessageLength) {
		if err := out.Reply(in, chunk); err != nil {
			h.log.Error("Failed to send reply", "message_id", in.ID, "channel_id", in.ChannelID, "error", err)
			return err
		}
	}
	return nil
}

func (h *Handler) report(ctx context.Context, status string) {
	if h.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.status.UpdateStatus(ctx, h.cfg.ID, status, time.Now()); err != nil {
		h.log.Warn("Failed to update status", "status", status, "error", err)
	}
}

func stripMention(content, botUserID string) string {
	if botUserID != "" {
		content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	}
	return strings.TrimSpace(content)
}

// splitMessage cuts s into pieces of at most limit runes, preferring to break
// at a newline or space in the second half of a piece.
func splitMessage(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i
				break
			}
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
