// Package dashboard serves the poster-facing account surface: profile,
// balance, deposits, and the ledger audit trail.
package dashboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/ledger"
	"github.com/agentjobs/backend/internal/models"
)

type Handler struct {
	authSvc  auth.Service
	accounts *ledger.AccountRepo
	entries  *ledger.EntryRepo
	log      *slog.Logger
}

func NewHandler(authSvc auth.Service, accounts *ledger.AccountRepo, entries *ledger.EntryRepo, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{authSvc: authSvc, accounts: accounts, entries: entries, log: log}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, fmt.Errorf("missing bearer token")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	id, _, err := h.authSvc.ValidateToken(r.Context(), token)
	return id, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// DepositRequest funds an account. Deposits are simulated; there is no
// payment processor behind them.
type DepositRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// POST /api/v1/account/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, "amount_cents must be positive", http.StatusBadRequest)
		return
	}
	newBalance, err := h.accounts.Deposit(r.Context(), accountID, req.AmountCents)
	if err != nil {
		h.log.Error("deposit failed", "account_id", accountID, "error", err)
		http.Error(w, "deposit failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("deposit", "account_id", accountID, "amount_cents", req.AmountCents)
	writeJSON(w, http.StatusOK, map[string]int64{"balance_cents": newBalance})
}

// GET /api/v1/account/ledger?limit=50
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.entries.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		h.log.Error("list ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
