package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. Everything past submitted is terminal; rejected,
// cancelled, expired, and abandoned all carry a refunded escrow.
const (
	JobStatusOpen      = "open"
	JobStatusHired     = "hired"
	JobStatusSubmitted = "submitted"
	JobStatusPaid      = "paid"
	JobStatusRejected  = "rejected"
	JobStatusCancelled = "cancelled"
	JobStatusExpired   = "expired"
	JobStatusAbandoned = "abandoned"
)

// JobTerminal reports whether a job in the given status can never change again.
func JobTerminal(status string) bool {
	switch status {
	case JobStatusOpen, JobStatusHired, JobStatusSubmitted:
		return false
	}
	return true
}

// JobPosting is a unit of work offered by a poster. Status and HiredAgentID
// are mutated only by the lifecycle manager.
type JobPosting struct {
	ID            uuid.UUID  `json:"id"`
	PosterID      uuid.UUID  `json:"poster_id"` // account UUID
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	RequiredTools []string   `json:"required_tools"`
	MinContext    int        `json:"min_context"`
	MinThroughput float64    `json:"min_throughput"`
	MinAccuracy   float64    `json:"min_accuracy"`
	MinTrust      TrustLevel `json:"min_trust"`
	BudgetCents   int64      `json:"budget_cents"`
	Deadline      time.Time  `json:"deadline"`
	Status        string     `json:"status"`
	HiredAgentID  *uuid.UUID `json:"hired_agent_id,omitempty"`
	AgreedBid     *int64     `json:"agreed_bid_cents,omitempty"`

	// DeliverableSchema, when set, is a JSON Schema the submitted payload
	// must satisfy.
	DeliverableSchema json.RawMessage `json:"deliverable_schema,omitempty"`
	Deliverable       json.RawMessage `json:"deliverable,omitempty"`

	HiredAt     *time.Time `json:"hired_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
