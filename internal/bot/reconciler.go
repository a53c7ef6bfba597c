// internal/bot/reconciler.go
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"vaste-chatbot/internal/coordination"
	"vaste-chatbot/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	maxConcurrentStarts = 4
)

type ConfigSource interface {
	ActiveConfigs(ctx context.Context) ([]coordination.BotConfig, error)
}

type ReconcilerOptions struct {
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Reconciler polls the active config set and converges the registry onto it.
type Reconciler struct {
	source   ConfigSource
	registry *Registry
	opts     ReconcilerOptions
	log      *slog.Logger
}

func NewReconciler(source ConfigSource, registry *Registry, opts ReconcilerOptions) *Reconciler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{source: source, registry: registry, opts: opts, log: opts.Logger}
}

// Run reconciles immediately and then on every poll interval until ctx is
// done, after which it stops all local bots within the shutdown timeout.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("Reconciler started", "poll_interval", r.opts.PollInterval)

	r.Reconcile(ctx)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

func (r *Reconciler) shutdown() {
	r.log.Info("Stopping all bots", "running", len(r.registry.Running()))

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	r.registry.StopAll(ctx)
}

// Reconcile runs one poll cycle. A failed fetch leaves the running set as it
// is; the heartbeats keep guarding the leases in the meantime.
func (r *Reconciler) Reconcile(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	configs, err := r.source.ActiveConfigs(fetchCtx)
	cancel()
	if err != nil {
		r.log.Error("Failed to fetch active configs", "error", err)
		return
	}

	desired := DedupeByToken(configs)
	wanted := make(map[string]coordination.BotConfig, len(desired))
	for _, cfg := range desired {
		wanted[cfg.ID] = cfg
	}

	for id, running := range r.registry.Running() {
		next, ok := wanted[id]
		switch {
		case !ok:
			r.log.Info("Config no longer active", "config_id", id)
		case next.BotToken != running.BotToken || next.AgentID != running.AgentID:
			r.log.Info("Config changed, restarting", "config_id", id)
		default:
			continue
		}
		r.registry.Stop(id, models.BotStatusStopped)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentStarts)
	for _, cfg := range desired {
		if r.registry.IsRunningForToken(cfg.BotToken) {
			continue
		}
		g.Go(func() error {
			if _, err := r.registry.Start(gctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("Bot not started", "config_id", cfg.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// DedupeByToken keeps one config per bot token: the most recently updated,
// with the smaller id winning a tie. Configs without a token are dropped.
// The result is ordered by id.
func DedupeByToken(configs []coordination.BotConfig) []coordination.BotConfig {
	best := make(map[string]coordination.BotConfig, len(configs))
	for _, cfg := range configs {
		if cfg.BotToken == "" || cfg.ID == "" {
			continue
		}
		cur, ok := best[cfg.BotToken]
		if !ok || cfg.UpdatedAt > cur.UpdatedAt || (cfg.UpdatedAt == cur.UpdatedAt && cfg.ID < cur.ID) {
			best[cfg.BotToken] = cfg
		}
	}

	out := make([]coordination.BotConfig, 0, len(best))
	for _, cfg := range best {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
