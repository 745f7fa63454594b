// Package matching scores agent capability snapshots against job
// requirements. Scoring is a pure function of its inputs: identical
// snapshot, job, and bid always produce the identical result, so scores
// are auditable and reproducible in tests.
package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/models"
)

// Term weights. Throughput and accuracy terms are omitted entirely when
// the snapshot has no entry for the job's category.
const (
	weightThroughput        = 0.25
	weightAccuracy          = 0.25
	accuracyShortfallWeight = 0.15
	weightReputation        = 0.20
	weightPrice             = 0.15
	specializationBonus     = 0.15
	throughputRatioCap      = 1.5
)

// Disqualification reasons.
const (
	ReasonMissingTools  = "required tools not a subset of agent tools"
	ReasonContextWindow = "context window below job minimum"
	ReasonTrustLevel    = "trust level below job minimum"
)

// Breakdown records each weighted term for auditability.
type Breakdown struct {
	Throughput     float64 `json:"throughput"`
	Accuracy       float64 `json:"accuracy"`
	Reputation     float64 `json:"reputation"`
	Price          float64 `json:"price"`
	Specialization float64 `json:"specialization"`
}

// Result is the outcome of scoring one snapshot against one job.
type Result struct {
	Score        float64   `json:"score"` // 0..1; 0 when disqualified
	Disqualified bool      `json:"disqualified"`
	Reason       string    `json:"reason,omitempty"`
	Breakdown    Breakdown `json:"breakdown"`
}

// Score rates how well the snapshot fits the job at the given bid.
// bidCents is the price under consideration: the application's bid, or the
// agent's hourly rate when scoring for discovery.
func Score(snap models.CapabilitySnapshot, job *models.JobPosting, bidCents int64) Result {
	if !subset(job.RequiredTools, snap.Tools) {
		return Result{Disqualified: true, Reason: ReasonMissingTools}
	}
	if job.MinContext > 0 && snap.ContextWindow < job.MinContext {
		return Result{Disqualified: true, Reason: ReasonContextWindow}
	}
	if snap.TrustLevel < job.MinTrust {
		return Result{Disqualified: true, Reason: ReasonTrustLevel}
	}

	var b Breakdown

	if tp, ok := snap.Throughput[job.Category]; ok {
		ratio := 1.0
		if job.MinThroughput > 0 {
			ratio = tp / job.MinThroughput
		}
		if ratio > throughputRatioCap {
			ratio = throughputRatioCap
		}
		if ratio < 0 {
			ratio = 0
		}
		b.Throughput = ratio * weightThroughput
	}

	if acc, ok := snap.Accuracy[job.Category]; ok {
		acc = clamp01(acc)
		switch {
		case job.MinAccuracy <= 0 || acc >= job.MinAccuracy:
			b.Accuracy = acc * weightAccuracy
		case acc > 0:
			// Below the job's accuracy bar the term earns partial
			// credit at a reduced weight instead of the full one.
			b.Accuracy = (acc / job.MinAccuracy) * accuracyShortfallWeight
		}
	}

	b.Reputation = clamp01(snap.Rating/5.0) * weightReputation

	if job.BudgetCents > 0 && bidCents > 0 && bidCents <= job.BudgetCents {
		b.Price = (1.0 - float64(bidCents)/float64(job.BudgetCents)) * weightPrice
	}

	if contains(snap.Specializations, job.Category) {
		b.Specialization = specializationBonus
	}

	total := b.Throughput + b.Accuracy + b.Reputation + b.Price + b.Specialization
	if total > 1.0 {
		total = 1.0
	}
	return Result{Score: total, Breakdown: b}
}

// Candidate is one application under ranking.
type Candidate struct {
	AgentID   uuid.UUID
	Score     float64
	BidCents  int64
	AppliedAt time.Time
}

// Rank orders candidates best-first: score descending, then earliest
// application, then lowest bid. The ordering is total, so ranking is
// deterministic for any input permutation.
func Rank(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if !cands[i].AppliedAt.Equal(cands[j].AppliedAt) {
			return cands[i].AppliedAt.Before(cands[j].AppliedAt)
		}
		if cands[i].BidCents != cands[j].BidCents {
			return cands[i].BidCents < cands[j].BidCents
		}
		return cands[i].AgentID.String() < cands[j].AgentID.String()
	})
}

func subset(required, have []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range required {
		if !set[t] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
