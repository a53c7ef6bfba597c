// internal/coordination/handler.go
package coordination

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"vaste-chatbot/internal/api"
	"vaste-chatbot/internal/database"
	"vaste-chatbot/internal/lock"
	"vaste-chatbot/internal/middleware"
	"vaste-chatbot/internal/models"

	"github.com/go-chi/chi/v5"
)

const maxTTLMs = int64(10 * time.Minute / time.Millisecond)

type ConfigStore interface {
	ActiveBotConfigs(ctx context.Context) ([]models.BotConfig, error)
	UpdateBotStatus(ctx context.Context, id, status string, lastSeen *time.Time) error
}

type LeaseManager interface {
	Claim(ctx context.Context, resourceID, holderID string, ttl time.Duration) (lock.Lease, error)
	Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (lock.Lease, error)
	Release(ctx context.Context, resourceID, holderID string) (bool, error)
}

type Handler struct {
	store      ConfigStore
	leases     LeaseManager
	backendKey string
	log        *slog.Logger
}

func NewHandler(store ConfigStore, leases LeaseManager, backendKey string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, leases: leases, backendKey: backendKey, log: log}
}

// RegisterRoutes registers the runner routes behind the backend key.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/discord/bot", func(r chi.Router) {
		r.Use(middleware.BackendKey(h.backendKey))
		r.Get("/activeConfigs", h.ActiveConfigs)
		r.Post("/claim", h.Claim)
		r.Post("/renew", h.Renew)
		r.Post("/release", h.Release)
		r.Post("/updateStatus", h.UpdateStatus)
	})
}

func (h *Handler) ActiveConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ActiveBotConfigs(r.Context())
	if err != nil {
		h.log.Error("Failed to list active bot configs", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]BotConfig, 0, len(configs))
	for i := range configs {
		out = append(out, NewBotConfig(&configs[i]))
	}
	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	h.lease(w, r, h.leases.Claim)
}

func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	h.lease(w, r, h.leases.Renew)
}

type leaseFunc func(ctx context.Context, resourceID, holderID string, ttl time.Duration) (lock.Lease, error)

func (h *Handler) lease(w http.ResponseWriter, r *http.Request, fn leaseFunc) {
	var req LockRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	lease, err := fn(r.Context(), req.ConfigID, req.InstanceID, time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result := LockResult{OK: lease.OK, Holder: lease.Holder}
	if !lease.ExpiresAt.IsZero() {
		result.ExpiresAt = lease.ExpiresAt.UnixMilli()
	}
	api.JSON(w, http.StatusOK, result)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	released, err := h.leases.Release(r.Context(), req.ConfigID, req.InstanceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, ReleaseResult{OK: true, Released: released})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var lastSeen *time.Time
	if req.LastSeen != nil {
		t := time.UnixMilli(*req.LastSeen).UTC()
		lastSeen = &t
	}
	if err := h.store.UpdateBotStatus(r.Context(), req.ConfigID, req.Status, lastSeen); err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lock.ErrInvalidInput):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		api.Error(w, http.StatusNotFound, "bot config not found")
	default:
		h.log.Error("Coordination request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
