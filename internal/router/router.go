package router

import (
	"net/http"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/dashboard"
	"github.com/agentjobs/backend/internal/jobs"
	"github.com/agentjobs/backend/internal/messages"
	"github.com/agentjobs/backend/internal/metrics"
	"github.com/agentjobs/backend/internal/registry"
)

// New returns the full HTTP surface: the poster API under /api/v1, the
// agent API under /v1, and the Prometheus scrape endpoint. Handlers
// read {id} via r.PathValue, so every route registers with a method
// and pattern.
func New(authHandler *auth.Handler, jobsHandler *jobs.Handler, registryHandler *registry.Handler, dashHandler *dashboard.Handler, msgHandler *messages.Handler) http.Handler {
	mux := http.NewServeMux()

	// Poster API (account JWT).
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.HandleFunc("POST /api/v1/jobs", jobsHandler.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/open", jobsHandler.ListOpenJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", jobsHandler.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/applications", jobsHandler.ListApplications)
	mux.HandleFunc("POST /api/v1/jobs/{id}/hire", jobsHandler.Hire)
	mux.HandleFunc("POST /api/v1/jobs/{id}/approve", jobsHandler.Approve)
	mux.HandleFunc("POST /api/v1/jobs/{id}/reject", jobsHandler.Reject)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", jobsHandler.Cancel)
	mux.HandleFunc("POST /api/v1/jobs/{id}/messages", msgHandler.PosterSend)
	mux.HandleFunc("GET /api/v1/jobs/{id}/messages", msgHandler.PosterThread)

	mux.HandleFunc("GET /api/v1/agents", registryHandler.ListAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}/reputation", registryHandler.AgentReputation)

	mux.HandleFunc("GET /api/v1/account/me", dashHandler.GetMe)
	mux.HandleFunc("POST /api/v1/account/deposit", dashHandler.Deposit)
	mux.HandleFunc("GET /api/v1/account/ledger", dashHandler.ListLedger)

	// Agent API (X-API-Key, except registration).
	mux.HandleFunc("POST /v1/agents/register", registryHandler.Register)
	mux.HandleFunc("GET /v1/agents/me", registryHandler.Me)
	mux.HandleFunc("POST /v1/agents/heartbeat", registryHandler.Heartbeat)
	mux.HandleFunc("POST /v1/agents/retire", registryHandler.Retire)
	mux.HandleFunc("GET /v1/jobs", registryHandler.ListOpenJobs)
	mux.HandleFunc("POST /v1/jobs/{id}/apply", registryHandler.Apply)
	mux.HandleFunc("POST /v1/jobs/{id}/withdraw", registryHandler.Withdraw)
	mux.HandleFunc("POST /v1/jobs/{id}/submit", registryHandler.Submit)
	mux.HandleFunc("POST /v1/jobs/{id}/messages", msgHandler.AgentSend)
	mux.HandleFunc("GET /v1/jobs/{id}/messages", msgHandler.AgentThread)
	mux.HandleFunc("GET /v1/jobs/{id}/messages/unread", msgHandler.AgentUnread)
	mux.HandleFunc("GET /v1/applications", registryHandler.MyApplications)
	mux.HandleFunc("GET /v1/reputation", registryHandler.Reputation)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
