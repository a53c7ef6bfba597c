// internal/bot/discord.go
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vaste-chatbot/internal/coordination"

	"github.com/bwmarrin/discordgo"
)

// DiscordConnector opens one gateway session per bot config.
type DiscordConnector struct {
	log *slog.Logger
}

func NewDiscordConnector(log *slog.Logger) *DiscordConnector {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordConnector{log: log}
}

func (c *DiscordConnector) Connect(_ context.Context, cfg coordination.BotConfig, handler *Handler) (Connection, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	// Guild messages and mentions need message content; DMs arrive on the
	// direct message intent.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	conn := &discordConnection{
		session: session,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		log:     c.log.With("config_id", cfg.ID),
	}
	session.AddHandler(conn.onReady)
	session.AddHandler(conn.onMessageCreate)

	if err := session.Open(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return conn, nil
}

type discordConnection struct {
	session *discordgo.Session
	handler *Handler
	ctx     context.Context
	cancel  context.CancelFunc
	log     *slog.Logger

	mu        sync.RWMutex
	botUserID string
}

func (c *discordConnection) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	c.botUserID = r.User.ID
	c.mu.Unlock()
	c.log.Info("Bot ready", "user", r.User.Username)
}

func (c *discordConnection) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	c.mu.RLock()
	botUserID := c.botUserID
	c.mu.RUnlock()
	if botUserID == "" && s.State != nil && s.State.User != nil {
		botUserID = s.State.User.ID
	}
	if m.Author.ID == botUserID {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botUserID {
			mentioned = true
			break
		}
	}

	c.handler.Handle(c.ctx, Inbound{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
		Mentioned: mentioned,
		BotUserID: botUserID,
	}, c)
}

func (c *discordConnection) Typing(channelID string) error {
	return c.session.ChannelTyping(channelID)
}

func (c *discordConnection) Reply(in Inbound, content string) error {
	_, err := c.session.ChannelMessageSendReply(in.ChannelID, content, &discordgo.MessageReference{
		MessageID: in.ID,
		ChannelID: in.ChannelID,
		GuildID:   in.GuildID,
	})
	return err
}

func (c *discordConnection) Close() error {
	c.cancel()
	return c.session.Close()
}
