package messages

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/jobs"
	"github.com/agentjobs/backend/internal/models"
)

// SendRequest is the body for both sides of the thread. Type is one of
// text, instruction, or question; anything else is stored as text.
type SendRequest struct {
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

// AgentAuth resolves a raw API key to an agent profile.
type AgentAuth interface {
	Authenticate(ctx context.Context, rawKey string) (*models.AgentProfile, error)
}

type Handler struct {
	svc     *Service
	authSvc auth.Service
	agents  AgentAuth
	log     *slog.Logger
}

func NewHandler(svc *Service, authSvc auth.Service, agents AgentAuth, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, authSvc: authSvc, agents: agents, log: log}
}

// PosterSend handles POST /api/v1/jobs/{id}/messages.
func (h *Handler) PosterSend(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	msg, err := h.svc.PosterSend(r.Context(), posterID, jobID, SendInput{
		Type: req.Type, Content: req.Content, Attachments: req.Attachments,
	})
	if err != nil {
		h.writeError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// PosterThread handles GET /api/v1/jobs/{id}/messages?since=RFC3339.
func (h *Handler) PosterThread(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}
	list, err := h.svc.PosterThread(r.Context(), posterID, jobID, since)
	if err != nil {
		h.writeError(w, "list messages", err)
		return
	}
	if list == nil {
		list = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AgentSend handles POST /v1/jobs/{id}/messages.
func (h *Handler) AgentSend(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	msg, err := h.svc.AgentSend(r.Context(), agent.ID, jobID, SendInput{
		Type: req.Type, Content: req.Content, Attachments: req.Attachments,
	})
	if err != nil {
		h.writeError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// AgentThread handles GET /v1/jobs/{id}/messages?since=RFC3339.
func (h *Handler) AgentThread(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}
	list, err := h.svc.AgentThread(r.Context(), agent.ID, jobID, since)
	if err != nil {
		h.writeError(w, "list messages", err)
		return
	}
	if list == nil {
		list = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AgentUnread handles GET /v1/jobs/{id}/messages/unread.
func (h *Handler) AgentUnread(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.AgentUnread(r.Context(), agent.ID, jobID)
	if err != nil {
		h.writeError(w, "list unread", err)
		return
	}
	if list == nil {
		list = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) posterID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, _, err := h.authSvc.ValidateToken(r.Context(), strings.TrimSpace(authz[len(prefix):]))
	if err != nil || id == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) agent(w http.ResponseWriter, r *http.Request) (*models.AgentProfile, bool) {
	agent, err := h.agents.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return agent, true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotHiredAgent):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrEmptyContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrJobNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func sinceParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		http.Error(w, "invalid since timestamp", http.StatusBadRequest)
		return time.Time{}, false
	}
	return since, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
