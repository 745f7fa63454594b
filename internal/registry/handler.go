package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/jobs"
	"github.com/agentjobs/backend/internal/ledger"
	"github.com/agentjobs/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type RegisterRequest struct {
	Name            string             `json:"name"`
	Model           string             `json:"model"`
	Tools           []string           `json:"tools"`
	Specializations []string           `json:"specializations"`
	ContextWindow   int                `json:"context_window"`
	Throughput      map[string]float64 `json:"throughput"`
	Accuracy        map[string]float64 `json:"accuracy"`
	HourlyRateCents int64              `json:"hourly_rate_cents"`
}

type RegisterResponse struct {
	Agent  *models.AgentProfile `json:"agent"`
	APIKey string               `json:"api_key"` // shown exactly once
}

type HeartbeatRequest struct {
	Tools           []string           `json:"tools,omitempty"`
	Specializations []string           `json:"specializations,omitempty"`
	ContextWindow   *int               `json:"context_window,omitempty"`
	Throughput      map[string]float64 `json:"throughput,omitempty"`
	Accuracy        map[string]float64 `json:"accuracy,omitempty"`
	HourlyRateCents *int64             `json:"hourly_rate_cents,omitempty"`
}

type ApplyRequest struct {
	BidCents int64  `json:"bid_cents"`
	Pitch    string `json:"pitch"`
}

type SubmitRequest struct {
	Deliverable json.RawMessage `json:"deliverable"`
}

// ReputationReader serves an agent's current reputation record.
type ReputationReader interface {
	GetByAgent(ctx context.Context, agentID uuid.UUID) (*models.ReputationRecord, error)
}

// Handler is the agent-facing API surface. Registration authenticates
// with the account JWT; everything else uses the agent's API key.
type Handler struct {
	svc     *Service
	jobsSvc *jobs.Service
	authSvc auth.Service
	rep     ReputationReader
	log     *slog.Logger
}

func NewHandler(svc *Service, jobsSvc *jobs.Service, authSvc auth.Service, rep ReputationReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, jobsSvc: jobsSvc, authSvc: authSvc, rep: rep, log: log}
}

// Register handles POST /v1/agents/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	agent, rawKey, err := h.svc.Register(r.Context(), accountID, RegisterInput{
		Name:            req.Name,
		Model:           req.Model,
		Tools:           req.Tools,
		Specializations: req.Specializations,
		ContextWindow:   req.ContextWindow,
		Throughput:      req.Throughput,
		Accuracy:        req.Accuracy,
		HourlyRateCents: req.HourlyRateCents,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{Agent: agent, APIKey: rawKey})
}

// Heartbeat handles POST /v1/agents/heartbeat. The body, if present,
// carries capability updates; the response carries assigned work.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	var update *CapabilityUpdate
	if r.ContentLength != 0 {
		var req HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		update = &CapabilityUpdate{
			Tools:           req.Tools,
			Specializations: req.Specializations,
			ContextWindow:   req.ContextWindow,
			Throughput:      req.Throughput,
			Accuracy:        req.Accuracy,
			HourlyRateCents: req.HourlyRateCents,
		}
	}
	result, err := h.svc.Heartbeat(r.Context(), agent.ID, update)
	if err != nil {
		h.writeError(w, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Retire handles POST /v1/agents/retire.
func (h *Handler) Retire(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	if err := h.svc.Retire(r.Context(), agent.ID); err != nil {
		h.writeError(w, "retire", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /v1/agents/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ListOpenJobs handles GET /v1/jobs?category=...&tool=...
func (h *Handler) ListOpenJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.agent(w, r); !ok {
		return
	}
	list, err := h.jobsSvc.ListOpen(r.Context(), r.URL.Query().Get("category"), 0)
	if err != nil {
		h.writeError(w, "list jobs", err)
		return
	}
	if tool := r.URL.Query().Get("tool"); tool != "" {
		filtered := list[:0]
		for _, job := range list {
			for _, t := range job.RequiredTools {
				if t == tool {
					filtered = append(filtered, job)
					break
				}
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

// MyApplications handles GET /v1/applications, the agent's own
// applications across jobs.
func (h *Handler) MyApplications(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	apps, err := h.jobsSvc.ApplicationsByAgent(r.Context(), agent.ID)
	if err != nil {
		h.writeError(w, "list applications", err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// Apply handles POST /v1/jobs/{id}/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	app, err := h.jobsSvc.Apply(r.Context(), agent.ID, jobID, req.BidCents, req.Pitch)
	if err != nil {
		h.writeError(w, "apply", err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// Withdraw handles POST /v1/jobs/{id}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	if err := h.jobsSvc.Withdraw(r.Context(), agent.ID, jobID); err != nil {
		h.writeError(w, "withdraw", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /v1/jobs/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, err := h.jobsSvc.SubmitDeliverable(r.Context(), agent.ID, jobID, req.Deliverable)
	if err != nil {
		h.writeError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListAgents handles GET /api/v1/agents, the directory of online
// agents posters can browse. Raw key hashes never leave the store, so
// the profile is safe to serve as-is.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.accountID(w, r); !ok {
		return
	}
	list, err := h.svc.ListOnline(r.Context())
	if err != nil {
		h.writeError(w, "list agents", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Reputation handles GET /v1/reputation.
func (h *Handler) Reputation(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	rec, err := h.rep.GetByAgent(r.Context(), agent.ID)
	if err != nil {
		h.writeError(w, "reputation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AgentReputation handles GET /api/v1/agents/{id}/reputation, the
// poster-side view of an agent's track record.
func (h *Handler) AgentReputation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.accountID(w, r); !ok {
		return
	}
	agentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	rec, err := h.rep.GetByAgent(r.Context(), agentID)
	if err != nil {
		h.writeError(w, "reputation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) agent(w http.ResponseWriter, r *http.Request) (*models.AgentProfile, bool) {
	agent, err := h.svc.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return agent, true
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
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

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, jobs.ErrInvalidBid), errors.Is(err, jobs.ErrDeliverableInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrNotHiredAgent):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrRetired), errors.Is(err, jobs.ErrAlreadyHired),
		errors.Is(err, jobs.ErrInvalidState), errors.Is(err, jobs.ErrAgentOffline),
		errors.Is(err, jobs.ErrNotQualified):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
