package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/ledger"
	"github.com/agentjobs/backend/internal/models"
	"github.com/agentjobs/backend/internal/reputation"
)

// Request/response structs use snake_case JSON.

type CreateJobRequest struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	RequiredTools     []string        `json:"required_tools"`
	MinContext        int             `json:"min_context"`
	MinThroughput     float64         `json:"min_throughput"`
	MinAccuracy       float64         `json:"min_accuracy"`
	MinTrust          string          `json:"min_trust"`
	BudgetCents       int64           `json:"budget_cents"`
	Deadline          time.Time       `json:"deadline"`
	DeliverableSchema json.RawMessage `json:"deliverable_schema,omitempty"`
}

type HireRequest struct {
	AgentID string `json:"agent_id"`
	Auto    bool   `json:"auto"`
}

type ApproveRequest struct {
	Quality       float64 `json:"quality"`
	Timeliness    float64 `json:"timeliness"`
	Communication float64 `json:"communication"`
}

type Handler struct {
	svc     *Service
	authSvc auth.Service
	log     *slog.Logger
}

func NewHandler(svc *Service, authSvc auth.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, authSvc: authSvc, log: log}
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, err := h.svc.Create(r.Context(), posterID, CreateJobInput{
		Title:             req.Title,
		Description:       req.Description,
		Category:          req.Category,
		RequiredTools:     req.RequiredTools,
		MinContext:        req.MinContext,
		MinThroughput:     req.MinThroughput,
		MinAccuracy:       req.MinAccuracy,
		MinTrust:          models.ParseTrustLevel(req.MinTrust),
		BudgetCents:       req.BudgetCents,
		Deadline:          req.Deadline,
		DeliverableSchema: req.DeliverableSchema,
	})
	if err != nil {
		h.writeError(w, "create job", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs, returning the poster's own jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListByPoster(r.Context(), posterID)
	if err != nil {
		h.writeError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListOpenJobs handles GET /api/v1/jobs/open, the public board of open
// postings. No auth; it carries nothing sensitive.
func (h *Handler) ListOpenJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListOpen(r.Context(), r.URL.Query().Get("category"), 0)
	if err != nil {
		h.writeError(w, "list open jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.posterID(w, r); !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListApplications handles GET /api/v1/jobs/{id}/applications, pending
// applications ranked best-first.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.posterID(w, r); !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	ranked, err := h.svc.Ranking(r.Context(), jobID)
	if err != nil {
		h.writeError(w, "list applications", err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// Hire handles POST /api/v1/jobs/{id}/hire. With auto=true the best
// qualified online applicant is chosen.
func (h *Handler) Hire(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req HireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	var job *models.JobPosting
	var err error
	if req.Auto {
		job, err = h.svc.AutoHire(r.Context(), posterID, jobID)
	} else {
		agentID, parseErr := uuid.Parse(req.AgentID)
		if parseErr != nil {
			http.Error(w, "invalid agent_id", http.StatusBadRequest)
			return
		}
		job, err = h.svc.Hire(r.Context(), posterID, jobID, agentID)
	}
	if err != nil {
		h.writeError(w, "hire", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Approve handles POST /api/v1/jobs/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	settlement, err := h.svc.Approve(r.Context(), posterID, jobID, reputation.Scores{
		Quality:       req.Quality,
		Timeliness:    req.Timeliness,
		Communication: req.Communication,
	})
	if err != nil {
		h.writeError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// Reject handles POST /api/v1/jobs/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reject(r.Context(), posterID, jobID); err != nil {
		h.writeError(w, "reject", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	posterID, ok := h.posterID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), posterID, jobID); err != nil {
		h.writeError(w, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotHiredAgent):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidBid),
		errors.Is(err, ErrDeliverableInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrAlreadyHired), errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrAgentOffline), errors.Is(err, ErrNotQualified),
		errors.Is(err, ErrNoApplicants):
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
