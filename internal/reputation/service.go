// Package reputation maintains per-agent performance aggregates and
// derives the composite rating and trust level from them.
package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentjobs/backend/internal/models"
)

// Rating blend weights. Completion rate is scaled onto the 1..5 band the
// other components use.
const (
	weightCompletion    = 0.3
	weightQuality       = 0.4
	weightTimeliness    = 0.2
	weightCommunication = 0.1
)

// failureComponentScore is the per-component sample recorded for a
// failed outcome. Failures drag the averages down instead of being
// invisible to them.
const failureComponentScore = 1.0

// Store persists reputation records. Get must return a zero-valued
// record (not an error) when the agent has no outcomes yet.
type Store interface {
	Get(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (*models.ReputationRecord, error)
	Upsert(ctx context.Context, tx pgx.Tx, rec *models.ReputationRecord) error
}

// Scores are the poster's 1..5 component ratings on an approved job.
type Scores struct {
	Quality       float64 `json:"quality"`
	Timeliness    float64 `json:"timeliness"`
	Communication float64 `json:"communication"`
}

// Validate rejects component scores outside the 1..5 band.
func (s Scores) Validate() error {
	for name, v := range map[string]float64{
		"quality": s.Quality, "timeliness": s.Timeliness, "communication": s.Communication,
	} {
		if v < 1 || v > 5 {
			return fmt.Errorf("%s score %.2f out of range [1,5]", name, v)
		}
	}
	return nil
}

// Service folds job outcomes into reputation records.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// RecordSuccess folds an approved job into the agent's record and
// returns the updated record.
func (s *Service) RecordSuccess(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, scores Scores) (*models.ReputationRecord, error) {
	if err := scores.Validate(); err != nil {
		return nil, err
	}
	return s.record(ctx, tx, agentID, true, scores)
}

// RecordFailure folds a rejected, expired, or abandoned job into the
// agent's record. Each component receives the failure sample.
func (s *Service) RecordFailure(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (*models.ReputationRecord, error) {
	return s.record(ctx, tx, agentID, false, Scores{
		Quality:       failureComponentScore,
		Timeliness:    failureComponentScore,
		Communication: failureComponentScore,
	})
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, success bool, scores Scores) (*models.ReputationRecord, error) {
	rec, err := s.store.Get(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}
	if success {
		rec.JobsCompleted++
	} else {
		rec.JobsFailed++
	}
	rec.QualitySum += scores.Quality
	rec.TimelinessSum += scores.Timeliness
	rec.CommunicationSum += scores.Communication

	recompute(rec)
	rec.UpdatedAt = time.Now()

	if err := s.store.Upsert(ctx, tx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// recompute derives the averages, the composite rating, and the trust
// level from the raw aggregates.
func recompute(rec *models.ReputationRecord) {
	n := float64(rec.Outcomes())
	if n == 0 {
		return
	}
	rec.CompletionRate = float64(rec.JobsCompleted) / n
	rec.QualityScore = rec.QualitySum / n
	rec.Timeliness = rec.TimelinessSum / n
	rec.Communication = rec.CommunicationSum / n

	rating := weightCompletion*(rec.CompletionRate*5) +
		weightQuality*rec.QualityScore +
		weightTimeliness*rec.Timeliness +
		weightCommunication*rec.Communication
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}
	rec.Rating = rating
	rec.TrustLevel = TrustFor(rec.JobsCompleted, rec.Rating)
}

// TrustFor returns the highest trust level the completion count and
// rating qualify for. Levels never require anything of agents below
// their thresholds, so an agent's level can drop if its rating does.
func TrustFor(jobsCompleted int, rating float64) models.TrustLevel {
	switch {
	case jobsCompleted >= 100 && rating >= 4.8:
		return models.TrustElite
	case jobsCompleted >= 25 && rating >= 4.5:
		return models.TrustTrusted
	case jobsCompleted >= 5 && rating >= 4.0:
		return models.TrustVerified
	default:
		return models.TrustNew
	}
}
