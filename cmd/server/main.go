// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaste-chatbot/internal/admin"
	"vaste-chatbot/internal/ai"
	"vaste-chatbot/internal/clock"
	"vaste-chatbot/internal/config"
	"vaste-chatbot/internal/coordination"
	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/lock"
	"vaste-chatbot/internal/middleware"
	"vaste-chatbot/internal/rag"
	"vaste-chatbot/internal/widget"
	"vaste-chatbot/web"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

const rateLimitSweepInterval = 5 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:          "vaste-server",
		Short:        "Chatbot backend: widget chat API, bot runner coordination and admin API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(v)
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "HTTP listen port (overrides PORT)")
	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func run(parent context.Context, cfg *config.Server) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()
	if err := db.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "driver", cfg.Database.Driver)

	aiService := ai.NewAIService(ai.Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		SiteURL:        cfg.LLM.SiteURL,
		AppTitle:       "Vaste Chatbot",
		Timeout:        cfg.LLM.Timeout,
	})
	if !aiService.Configured() {
		slog.Warn("No LLM API key configured, replies will be stubbed")
	}

	retriever := rag.NewRAGRetriever(db, aiService, cfg.KnowledgeRetrieval, cfg.KnowledgeLimit)
	slog.Info("Knowledge retrieval ready", "mode", retriever.Mode())

	widgetService := widget.NewService(db, retriever, aiService, widget.Options{
		HistoryLimit: cfg.ChatHistoryLimit,
		Clock:        clock.SystemClock{},
		Logger:       logger,
	})
	leases := lock.NewService(db, clock.SystemClock{}, logger)
	limiter := middleware.NewRateLimiter(cfg.WidgetRateLimit, cfg.WidgetRateBurst).TrustBackendKey(cfg.BackendKey)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// Public widget routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(limiter.Middleware)
		widget.NewHandler(widgetService, logger).RegisterRoutes(r)
	})
	web.RegisterRoutes(r)

	// Backend-key routes.
	coordination.NewHandler(db, leases, cfg.BackendKey, logger).RegisterRoutes(r)
	admin.NewHandler(db, retriever, cfg.BackendKey, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(rateLimitSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}
