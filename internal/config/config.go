// Package config loads configuration for the server and the bot runner.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"vaste-chatbot/internal/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Server holds the HTTP backend configuration.
type Server struct {
	Port               string
	Database           database.Options
	LLM                LLM
	KnowledgeRetrieval string
	KnowledgeLimit     int
	ChatHistoryLimit   int
	WidgetRateLimit    float64
	WidgetRateBurst    int
	AllowedOrigins     []string
	BackendKey         string
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
}

type LLM struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	SiteURL        string
	Timeout        time.Duration
}

// Runner holds the Discord bot runner configuration.
type Runner struct {
	BackendURL      string
	BackendKey      string
	InstanceID      string
	PollInterval    time.Duration
	LockTTL         time.Duration
	RenewInterval   time.Duration
	DedupWindow     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	// ChatTimeout bounds one relayed chat turn. It must outlast the
	// server's LLMTimeout so slow replies still reach the user.
	ChatTimeout time.Duration
	LLMTimeout  time.Duration
}

// New returns a viper instance reading the environment, after loading .env
// when one is present. Flags bound by the caller take precedence.
func New() *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", database.DriverPostgres)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("SQLITE_PATH", "./data/vaste.db")
	v.SetDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("LLM_MODEL", "openai/gpt-4o-mini")
	v.SetDefault("LLM_TIMEOUT", 20*time.Second)
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-ada-002")
	v.SetDefault("KNOWLEDGE_RETRIEVAL", "recent")
	v.SetDefault("KNOWLEDGE_LIMIT", 20)
	v.SetDefault("CHAT_HISTORY_LIMIT", 50)
	v.SetDefault("WIDGET_RATE_LIMIT", 2.0)
	v.SetDefault("WIDGET_RATE_BURST", 10)
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("POLL_INTERVAL", 30*time.Second)
	v.SetDefault("LOCK_TTL", 60*time.Second)
	v.SetDefault("RENEW_INTERVAL", 30*time.Second)
	v.SetDefault("DEDUP_WINDOW", 5*time.Minute)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("CHAT_TIMEOUT", 30*time.Second)
	return v
}

func LoadServer(v *viper.Viper) (*Server, error) {
	apiKey := v.GetString("OPENROUTER_API_KEY")
	if apiKey == "" {
		apiKey = v.GetString("OPENAI_API_KEY")
	}

	cfg := &Server{
		Port: v.GetString("PORT"),
		Database: database.Options{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			URL:        v.GetString("DATABASE_URL"),
			Host:       v.GetString("DB_HOST"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			Name:       v.GetString("DB_NAME"),
			Port:       v.GetInt("DB_PORT"),
			SQLitePath: v.GetString("SQLITE_PATH"),
			LogQueries: v.GetBool("DB_LOG_QUERIES"),
		},
		LLM: LLM{
			APIKey:         apiKey,
			BaseURL:        v.GetString("LLM_BASE_URL"),
			Model:          v.GetString("LLM_MODEL"),
			EmbeddingModel: v.GetString("EMBEDDING_MODEL"),
			SiteURL:        v.GetString("SITE_URL"),
			Timeout:        v.GetDuration("LLM_TIMEOUT"),
		},
		KnowledgeRetrieval: strings.ToLower(v.GetString("KNOWLEDGE_RETRIEVAL")),
		KnowledgeLimit:     v.GetInt("KNOWLEDGE_LIMIT"),
		ChatHistoryLimit:   v.GetInt("CHAT_HISTORY_LIMIT"),
		WidgetRateLimit:    v.GetFloat64("WIDGET_RATE_LIMIT"),
		WidgetRateBurst:    v.GetInt("WIDGET_RATE_BURST"),
		AllowedOrigins:     splitList(v.GetString("ALLOWED_ORIGINS")),
		BackendKey:         v.GetString("DISCORD_BACKEND_KEY"),
		ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:           ParseLevel(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Server) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BackendKey == "" {
		return fmt.Errorf("DISCORD_BACKEND_KEY is required")
	}
	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case database.DriverPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("DATABASE_URL or DB_HOST is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.KnowledgeRetrieval {
	case "recent", "similar":
	default:
		return fmt.Errorf("KNOWLEDGE_RETRIEVAL must be recent or similar")
	}
	if c.KnowledgeLimit <= 0 {
		return fmt.Errorf("KNOWLEDGE_LIMIT must be > 0")
	}
	if c.WidgetRateLimit <= 0 || c.WidgetRateBurst <= 0 {
		return fmt.Errorf("WIDGET_RATE_LIMIT and WIDGET_RATE_BURST must be > 0")
	}
	return nil
}

func LoadRunner(v *viper.Viper) (*Runner, error) {
	cfg := &Runner{
		BackendURL:      strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
		BackendKey:      v.GetString("DISCORD_BACKEND_KEY"),
		InstanceID:      v.GetString("RUNNER_INSTANCE_ID"),
		PollInterval:    v.GetDuration("POLL_INTERVAL"),
		LockTTL:         v.GetDuration("LOCK_TTL"),
		RenewInterval:   v.GetDuration("RENEW_INTERVAL"),
		DedupWindow:     v.GetDuration("DEDUP_WINDOW"),
		RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:        ParseLevel(v.GetString("LOG_LEVEL")),
		ChatTimeout:     v.GetDuration("CHAT_TIMEOUT"),
		LLMTimeout:      v.GetDuration("LLM_TIMEOUT"),
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Runner) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.BackendKey == "" {
		return fmt.Errorf("DISCORD_BACKEND_KEY is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be > 0")
	}
	if c.RenewInterval <= 0 || c.RenewInterval >= c.LockTTL {
		return fmt.Errorf("RENEW_INTERVAL must be > 0 and shorter than LOCK_TTL")
	}
	if c.ChatTimeout <= c.LLMTimeout {
		return fmt.Errorf("CHAT_TIMEOUT (%s) must be longer than LLM_TIMEOUT (%s)", c.ChatTimeout, c.LLMTimeout)
	}
	return nil
}

// ParseLevel maps debug|info|warn|error onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "runner"
	}
	return host + "-" + uuid.NewString()[:8]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
