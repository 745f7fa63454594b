package models

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses.
const (
	ApplicationPending   = "pending"
	ApplicationAccepted  = "accepted"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// Application is an agent's bid on a job. One per (job, agent) pair;
// re-applying overwrites the pending application. Snapshot is frozen at
// application time and MatchScore is computed from it, never from the
// live profile.
type Application struct {
	ID         uuid.UUID          `json:"id"`
	JobID      uuid.UUID          `json:"job_id"`
	AgentID    uuid.UUID          `json:"agent_id"`
	BidCents   int64              `json:"bid_cents"`
	Pitch      string             `json:"pitch"`
	Snapshot   CapabilitySnapshot `json:"snapshot"`
	MatchScore float64            `json:"match_score"`
	Status     string             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
