// cmd/bot/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vaste-chatbot/internal/bot"
	"vaste-chatbot/internal/config"
	"vaste-chatbot/internal/coordination"
	"vaste-chatbot/internal/widget"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:          "vaste-bot",
		Short:        "Discord bot runner: keeps one live connection per enabled bot config across all runners",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRunner(v)
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			run(cmd.Context(), cfg)
			return nil
		},
	}
	cmd.Flags().String("instance-id", "", "runner instance id used as the lease holder (overrides RUNNER_INSTANCE_ID)")
	_ = v.BindPFlag("RUNNER_INSTANCE_ID", cmd.Flags().Lookup("instance-id"))
	return cmd
}

func run(parent context.Context, cfg *config.Runner) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	backend := coordination.NewClient(cfg.BackendURL, cfg.BackendKey, cfg.RequestTimeout)
	chat := widget.NewClient(cfg.BackendURL, cfg.BackendKey, cfg.ChatTimeout)
	dedup := bot.NewDeduper(cfg.DedupWindow, nil)

	newHandler := func(c coordination.BotConfig) *bot.Handler {
		return bot.NewHandler(c, chat, backend, dedup, logger)
	}
	registry := bot.NewRegistry(backend, backend, bot.NewDiscordConnector(logger), newHandler, bot.RegistryOptions{
		InstanceID:     cfg.InstanceID,
		LockTTL:        cfg.LockTTL,
		RenewInterval:  cfg.RenewInterval,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	reconciler := bot.NewReconciler(backend, registry, bot.ReconcilerOptions{
		PollInterval:    cfg.PollInterval,
		RequestTimeout:  cfg.RequestTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bot runner started", "instance_id", cfg.InstanceID, "backend", cfg.BackendURL)
	reconciler.Run(ctx)
	slog.Info("Bot runner stopped", "instance_id", cfg.InstanceID)
}
