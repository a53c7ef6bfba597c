// internal/bot/registry.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vaste-chatbot/internal/coordination"
	"vaste-chatbot/internal/models"

	"golang.org/x/sync/errgroup"
)

// ErrLoginFailed is returned when a bot connection cannot be established.
var ErrLoginFailed = errors.New("bot login failed")

// Locker is the lease protocol. Claim and Renew report false when the lease
// belongs to someone else; that is a normal outcome, not an error.
type Locker interface {
	Claim(ctx context.Context, configID, instanceID string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, configID, instanceID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, configID, instanceID string) error
}

type StatusReporter interface {
	UpdateStatus(ctx context.Context, configID, status string, lastSeen time.Time) error
}

// Connection is one live bot session on the chat platform.
type Connection interface {
	Close() error
}

// Connector logs a bot in and routes its messages to the handler.
type Connector interface {
	Connect(ctx context.Context, cfg coordination.BotConfig, handler *Handler) (Connection, error)
}

// HandlerFactory builds the message handler for a newly started config.
type HandlerFactory func(cfg coordination.BotConfig) *Handler

type RegistryOptions struct {
	InstanceID     string
	LockTTL        time.Duration
	RenewInterval  time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type connection struct {
	cfg  coordination.BotConfig
	conn Connection
}

// Registry owns this process's live connections, their heartbeats, and the
// token index that keeps at most one local connection per bot token.
type Registry struct {
	locker     Locker
	status     StatusReporter
	connector  Connector
	newHandler HandlerFactory
	opts       RegistryOptions
	log        *slog.Logger

	mu          sync.Mutex
	connections map[string]*connection        // config id -> live connection
	heartbeats  map[string]context.CancelFunc // config id -> heartbeat cancel
	byToken     map[string]string             // bot token -> config id, including starts in flight
}

func NewRegistry(locker Locker, status StatusReporter, connector Connector, newHandler HandlerFactory, opts RegistryOptions) *Registry {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 60 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.LockTTL {
		opts.RenewInterval = opts.LockTTL / 2
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		locker:      locker,
		status:      status,
		connector:   connector,
		newHandler:  newHandler,
		opts:        opts,
		log:         opts.Logger.With("instance_id", opts.InstanceID),
		connections: make(map[string]*connection),
		heartbeats:  make(map[string]context.CancelFunc),
		byToken:     make(map[string]string),
	}
}

// IsRunningForToken reports whether this process has a connection for token,
// or is in the middle of starting one.
func (r *Registry) IsRunningForToken(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byToken[token]
	return ok
}

// Running returns a snapshot of the live configs keyed by config id.
func (r *Registry) Running() map[string]coordination.BotConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]coordination.BotConfig, len(r.connections))
	for id, c := range r.connections {
		out[id] = c.cfg
	}
	return out
}

// Start claims the lease for cfg and, if granted, logs the bot in and starts
// its heartbeat. It reports whether a connection is now running. A denied
// claim returns false with no error.
func (r *Registry) Start(ctx context.Context, cfg coordination.BotConfig) (bool, error) {
	log := r.log.With("config_id", cfg.ID)

	r.mu.Lock()
	if _, ok := r.byToken[cfg.BotToken]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.byToken[cfg.BotToken] = cfg.ID
	r.mu.Unlock()

	started := false
	defer func() {
		if !started {
			r.mu.Lock()
			if r.byToken[cfg.BotToken] == cfg.ID {
				delete(r.byToken, cfg.BotToken)
			}
			r.mu.Unlock()
		}
	}()

	claimCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	ok, err := r.locker.Claim(claimCtx, cfg.ID, r.opts.InstanceID, r.opts.LockTTL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", cfg.ID, err)
	}
	if !ok {
		log.Debug("Lease held by another instance")
		return false, nil
	}

	conn, err := r.connector.Connect(ctx, cfg, r.newHandler(cfg))
	if err != nil {
		log.Error("Bot login failed", "error", err)
		r.release(cfg.ID)
		r.report(cfg.ID, models.BotStatusLoginFailed)
		if !errors.Is(err, ErrLoginFailed) {
			err = fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		return false, err
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.connections[cfg.ID] = &connection{cfg: cfg, conn: conn}
	r.heartbeats[cfg.ID] = hbCancel
	r.mu.Unlock()
	started = true

	go r.heartbeat(hbCtx, cfg.ID)

	log.Info("Bot started", "agent_id", cfg.AgentID)
	r.report(cfg.ID, models.BotStatusRunning)
	return true, nil
}

// heartbeat renews the lease until cancelled. Any failed renewal tears the
// connection down at once.
func (r *Registry) heartbeat(ctx context.Context, configID string) {
	ticker := time.NewTicker(r.opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
			ok, err := r.locker.Renew(renewCtx, configID, r.opts.InstanceID, r.opts.LockTTL)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				r.log.Warn("Lease renewal failed, stopping bot", "config_id", configID, "renewed", ok, "error", err)
				r.Stop(configID, "")
				return
			}
		}
	}
}

// Stop tears down a local connection, cancels its heartbeat and releases the
// lease. A non-empty status is reported afterwards. Every step is best-effort.
func (r *Registry) Stop(configID, status string) bool {
	r.mu.Lock()
	c, ok := r.connections[configID]
	if ok {
		if cancel := r.heartbeats[configID]; cancel != nil {
			cancel()
		}
		delete(r.heartbeats, configID)
		delete(r.connections, configID)
		if r.byToken[c.cfg.BotToken] == configID {
			delete(r.byToken, c.cfg.BotToken)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := c.conn.Close(); err != nil {
		r.log.Warn("Failed to close bot connection", "config_id", configID, "error", err)
	}
	r.release(configID)
	if status != "" {
		r.report(configID, status)
	}
	r.log.Info("Bot stopped", "config_id", configID, "status", status)
	return true
}

// StopAll stops every local connection concurrently, reporting them stopped.
func (r *Registry) StopAll(ctx context.Context) {
	running := r.Running()

	var g errgroup.Group
	for id := range running {
		g.Go(func() error {
			r.Stop(id, models.BotStatusStopped)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("Shutdown deadline reached before all bots stopped", "error", ctx.Err())
	}
}

func (r *Registry) release(configID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RequestTimeout)
	defer cancel()
	if err := r.locker.Release(ctx, configID, r.opts.InstanceID); err != nil {
		r.log.Warn("Failed to release lease", "config_id", configID, "error", err)
	}
}

func (r *Registry) report(configID, status string) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.RequestTimeout)
	defer cancel()
	if err := r.status.UpdateStatus(ctx, configID, status, time.Now()); err != nil {
		r.log.Warn("Failed to update status", "config_id", configID, "status", status, "error", err)
	}
}
