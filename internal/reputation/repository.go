package reputation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjobs/backend/internal/models"
)

// Repo implements Store against the reputation_records table.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Get returns the agent's record, or a zero-valued one when the agent
// has no outcomes yet. The row is locked so concurrent settlements fold
// their outcomes in sequentially.
func (r *Repo) Get(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (*models.ReputationRecord, error) {
	var rec models.ReputationRecord
	err := tx.QueryRow(ctx, `
		SELECT agent_id, jobs_completed, jobs_failed,
		       quality_sum, timeliness_sum, communication_sum,
		       rating, completion_rate, quality_score, timeliness, communication,
		       trust_level, updated_at
		FROM reputation_records WHERE agent_id = $1
		FOR UPDATE
	`, agentID).Scan(&rec.AgentID, &rec.JobsCompleted, &rec.JobsFailed,
		&rec.QualitySum, &rec.TimelinessSum, &rec.CommunicationSum,
		&rec.Rating, &rec.CompletionRate, &rec.QualityScore, &rec.Timeliness, &rec.Communication,
		&rec.TrustLevel, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ReputationRecord{AgentID: agentID, TrustLevel: models.TrustNew}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) Upsert(ctx context.Context, tx pgx.Tx, rec *models.ReputationRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reputation_records (
			agent_id, jobs_completed, jobs_failed,
			quality_sum, timeliness_sum, communication_sum,
			rating, completion_rate, quality_score, timeliness, communication,
			trust_level, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (agent_id) DO UPDATE SET
			jobs_completed = EXCLUDED.jobs_completed,
			jobs_failed = EXCLUDED.jobs_failed,
			quality_sum = EXCLUDED.quality_sum,
			timeliness_sum = EXCLUDED.timeliness_sum,
			communication_sum = EXCLUDED.communication_sum,
			rating = EXCLUDED.rating,
			completion_rate = EXCLUDED.completion_rate,
			quality_score = EXCLUDED.quality_score,
			timeliness = EXCLUDED.timeliness,
			communication = EXCLUDED.communication,
			trust_level = EXCLUDED.trust_level,
			updated_at = EXCLUDED.updated_at
	`, rec.AgentID, rec.JobsCompleted, rec.JobsFailed,
		rec.QualitySum, rec.TimelinessSum, rec.CommunicationSum,
		rec.Rating, rec.CompletionRate, rec.QualityScore, rec.Timeliness, rec.Communication,
		rec.TrustLevel, rec.UpdatedAt)
	return err
}

// GetByAgent reads a record outside any transaction, for the public
// reputation endpoint.
func (r *Repo) GetByAgent(ctx context.Context, agentID uuid.UUID) (*models.ReputationRecord, error) {
	var rec models.ReputationRecord
	err := r.pool.QueryRow(ctx, `
		SELECT agent_id, jobs_completed, jobs_failed,
		       quality_sum, timeliness_sum, communication_sum,
		       rating, completion_rate, quality_score, timeliness, communication,
		       trust_level, updated_at
		FROM reputation_records WHERE agent_id = $1
	`, agentID).Scan(&rec.AgentID, &rec.JobsCompleted, &rec.JobsFailed,
		&rec.QualitySum, &rec.TimelinessSum, &rec.CommunicationSum,
		&rec.Rating, &rec.CompletionRate, &rec.QualityScore, &rec.Timeliness, &rec.Communication,
		&rec.TrustLevel, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ReputationRecord{AgentID: agentID, TrustLevel: models.TrustNew}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
