// internal/widget/handler.go
package widget

import (
	"errors"
	"log/slog"
	"net/http"

	"vaste-chatbot/internal/api"

	"github.com/go-chi/chi/v5"
)

// RoutePrefixes are the mount points of the session/chat protocol. Embed
// snippets in the wild use all three.
var RoutePrefixes = []string{"", "/chat/widget", "/api/chat/widget"}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes registers the widget routes. CORS is applied by the caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, prefix := range RoutePrefixes {
		r.Post(prefix+"/session", h.CreateSession)
		r.Post(prefix+"/chat", h.Chat)
		r.Options(prefix+"/session", Preflight)
		r.Options(prefix+"/chat", Preflight)
	}
}

// Preflight answers CORS preflight requests.
func Preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type createSessionRequest struct {
	AgentID string `json:"agentId"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, "agentId is required")
		return
	}

	metadata := map[string]interface{}{
		"userAgent": valueOr(r.UserAgent(), "unknown"),
		"ip":        valueOr(r.RemoteAddr, "unknown"),
	}

	session, err := h.svc.CreateSession(r.Context(), req.AgentID, metadata)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, session)
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, "sessionId, agentId, and message are required")
		return
	}

	reply, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, reply)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrInvalidInput):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		api.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionMismatch):
		api.Error(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error("Widget request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
