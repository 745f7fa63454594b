package models

import (
	"time"

	"github.com/google/uuid"
)

// ReputationRecord holds the incremental aggregates behind an agent's
// rating. Component averages are over the agent's full outcome history;
// sums and counts are stored so each terminal job is a constant-time
// update.
type ReputationRecord struct {
	AgentID          uuid.UUID  `json:"agent_id"`
	JobsCompleted    int        `json:"jobs_completed"`
	JobsFailed       int        `json:"jobs_failed"`
	QualitySum       float64    `json:"-"`
	TimelinessSum    float64    `json:"-"`
	CommunicationSum float64    `json:"-"`
	Rating           float64    `json:"rating"`
	CompletionRate   float64    `json:"completion_rate"` // 0..1
	QualityScore     float64    `json:"quality_score"`   // 1..5
	Timeliness       float64    `json:"timeliness"`      // 1..5
	Communication    float64    `json:"communication"`   // 1..5
	TrustLevel       TrustLevel `json:"trust_level"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Outcomes reports the total number of terminal jobs recorded.
func (r *ReputationRecord) Outcomes() int {
	return r.JobsCompleted + r.JobsFailed
}
