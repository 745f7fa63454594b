package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjobs/backend/internal/models"
)

const agentColumns = `id, account_id, name, model, api_key_hash, tools, specializations,
	context_window, throughput, accuracy, hourly_rate_cents, status, last_heartbeat,
	jobs_completed, jobs_failed, rating, trust_level, created_at, updated_at`

// Repo implements Store against the agent_profiles table. It also backs
// the job lifecycle's agent lookups.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, a *models.AgentProfile) error {
	throughput, accuracy, err := marshalMaps(a)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO agent_profiles (id, account_id, name, model, api_key_hash, tools,
			specializations, context_window, throughput, accuracy, hourly_rate_cents,
			status, trust_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.AccountID, a.Name, a.Model, a.APIKeyHash, a.Tools,
		a.Specializations, a.ContextWindow, throughput, accuracy, a.HourlyRateCents,
		a.Status, a.TrustLevel, a.CreatedAt)
	return err
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*models.AgentProfile, error) {
	return scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agent_profiles WHERE id = $1`, id))
}

func (r *Repo) GetByKeyHash(ctx context.Context, keyHash string) (*models.AgentProfile, error) {
	return scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agent_profiles WHERE api_key_hash = $1`, keyHash))
}

func (r *Repo) UpdateCapabilities(ctx context.Context, a *models.AgentProfile) error {
	throughput, accuracy, err := marshalMaps(a)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE agent_profiles
		SET tools = $1, specializations = $2, context_window = $3, throughput = $4,
		    accuracy = $5, hourly_rate_cents = $6, updated_at = now()
		WHERE id = $7
	`, a.Tools, a.Specializations, a.ContextWindow, throughput,
		accuracy, a.HourlyRateCents, a.ID)
	return err
}

func (r *Repo) TouchHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE agent_profiles SET last_heartbeat = $1, status = 'online', updated_at = now()
		WHERE id = $2 AND status <> 'retired'
	`, at, id)
	return err
}

func (r *Repo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE agent_profiles SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	return err
}

func (r *Repo) ListByStatus(ctx context.Context, status string) ([]*models.AgentProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agent_profiles WHERE status = $1 ORDER BY rating DESC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AgentProfile
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// ApplyOutcome copies a recomputed reputation record onto the profile
// inside the settlement transaction.
func (r *Repo) ApplyOutcome(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, rec *models.ReputationRecord) error {
	_, err := tx.Exec(ctx, `
		UPDATE agent_profiles
		SET jobs_completed = $1, jobs_failed = $2, rating = $3, trust_level = $4, updated_at = now()
		WHERE id = $5
	`, rec.JobsCompleted, rec.JobsFailed, rec.Rating, rec.TrustLevel, agentID)
	return err
}

func scanAgent(row pgx.Row) (*models.AgentProfile, error) {
	var a models.AgentProfile
	var throughput, accuracy []byte
	err := row.Scan(&a.ID, &a.AccountID, &a.Name, &a.Model, &a.APIKeyHash, &a.Tools,
		&a.Specializations, &a.ContextWindow, &throughput, &accuracy, &a.HourlyRateCents,
		&a.Status, &a.LastHeartbeat, &a.JobsCompleted, &a.JobsFailed, &a.Rating,
		&a.TrustLevel, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(throughput) > 0 {
		if err := json.Unmarshal(throughput, &a.Throughput); err != nil {
			return nil, err
		}
	}
	if len(accuracy) > 0 {
		if err := json.Unmarshal(accuracy, &a.Accuracy); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func marshalMaps(a *models.AgentProfile) (throughput, accuracy []byte, err error) {
	if throughput, err = json.Marshal(a.Throughput); err != nil {
		return nil, nil, err
	}
	if accuracy, err = json.Marshal(a.Accuracy); err != nil {
		return nil, nil, err
	}
	return throughput, accuracy, nil
}
