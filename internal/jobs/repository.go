package jobs

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

const jobColumns = `id, poster_id, title, description, category, required_tools,
	min_context, min_throughput, min_accuracy, min_trust, budget_cents, deadline,
	status, hired_agent_id, agreed_bid_cents, deliverable_schema, deliverable,
	hired_at, submitted_at, completed_at, created_at, updated_at`

// JobRepo implements JobStore against the jobs table.
type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *JobRepo) Create(ctx context.Context, tx pgx.Tx, j *models.JobPosting) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO jobs (id, poster_id, title, description, category, required_tools,
			min_context, min_throughput, min_accuracy, min_trust, budget_cents, deadline,
			status, deliverable_schema, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, j.ID, j.PosterID, j.Title, j.Description, j.Category, j.RequiredTools,
		j.MinContext, j.MinThroughput, j.MinAccuracy, j.MinTrust, j.BudgetCents, j.Deadline,
		j.Status, nullableJSON(j.DeliverableSchema), j.CreatedAt)
	return err
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.JobPosting, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *JobRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobPosting, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// ClaimOpen is the hire compare-and-set: it succeeds only while the job
// is still open, so exactly one concurrent hire can win.
func (r *JobRepo) ClaimOpen(ctx context.Context, tx pgx.Tx, jobID, agentID uuid.UUID, bidCents int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'hired', hired_agent_id = $1, agreed_bid_cents = $2,
		    hired_at = now(), updated_at = now()
		WHERE id = $3 AND status = 'open'
	`, agentID, bidCents, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyHired
	}
	return nil
}

func (r *JobRepo) SetSubmitted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, deliverable json.RawMessage) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'submitted', deliverable = $1, submitted_at = now(), updated_at = now()
		WHERE id = $2
	`, nullableJSON(deliverable), jobID)
	return err
}

// SetStatus is used for terminal transitions only, so it stamps
// completed_at.
func (r *JobRepo) SetStatus(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = now(), updated_at = now() WHERE id = $2
	`, status, jobID)
	return err
}

func (r *JobRepo) ListOpen(ctx context.Context, category string, limit int) ([]*models.JobPosting, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'open'`
	args := []any{limit}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	return queryJobs(ctx, r.pool, query, args...)
}

func (r *JobRepo) ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.JobPosting, error) {
	return queryJobs(ctx, r.pool, `
		SELECT `+jobColumns+` FROM jobs WHERE poster_id = $1 ORDER BY created_at DESC
	`, posterID)
}

// ListAssignedTo returns the agent's hired jobs, for the heartbeat
// work feed.
func (r *JobRepo) ListAssignedTo(ctx context.Context, agentID uuid.UUID) ([]*models.JobPosting, error) {
	return queryJobs(ctx, r.pool, `
		SELECT `+jobColumns+` FROM jobs WHERE hired_agent_id = $1 AND status = 'hired'
		ORDER BY hired_at ASC
	`, agentID)
}

func (r *JobRepo) DuePastDeadline(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.pool, `
		SELECT id FROM jobs WHERE status IN ('open', 'hired') AND deadline < $1
	`, now)
}

func (r *JobRepo) ListHired(ctx context.Context) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.pool, `
		SELECT id FROM jobs WHERE status = 'hired'
	`)
}

func queryIDs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryJobs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]*models.JobPosting, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.JobPosting
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func scanJob(row pgx.Row) (*models.JobPosting, error) {
	var j models.JobPosting
	var schema, deliverable []byte
	err := row.Scan(&j.ID, &j.PosterID, &j.Title, &j.Description, &j.Category, &j.RequiredTools,
		&j.MinContext, &j.MinThroughput, &j.MinAccuracy, &j.MinTrust, &j.BudgetCents, &j.Deadline,
		&j.Status, &j.HiredAgentID, &j.AgreedBid, &schema, &deliverable,
		&j.HiredAt, &j.SubmittedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.DeliverableSchema = json.RawMessage(schema)
	j.Deliverable = json.RawMessage(deliverable)
	return &j, nil
}

// nullableJSON maps an absent raw message to SQL NULL instead of the
// empty string, which jsonb rejects.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// ApplicationRepo implements ApplicationStore against the applications
// table, unique on (job_id, agent_id).
type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

// Upsert inserts or replaces the agent's application. The job row is
// locked first and re-checked for the open status, so an apply racing a
// hire either commits before the claim and is rejected with the other
// siblings, or observes the claimed status and fails. On the conflict
// path the stored row keeps its id and created_at; both are scanned
// back so the caller returns what the database holds.
func (r *ApplicationRepo) Upsert(ctx context.Context, a *models.Application) error {
	snap, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, a.JobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.JobStatusOpen {
		return ErrAlreadyHired
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO applications (id, job_id, agent_id, bid_cents, pitch, snapshot, match_score, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, agent_id) DO UPDATE SET
			bid_cents = EXCLUDED.bid_cents,
			pitch = EXCLUDED.pitch,
			snapshot = EXCLUDED.snapshot,
			match_score = EXCLUDED.match_score,
			status = 'pending',
			updated_at = now()
		RETURNING id, created_at
	`, a.ID, a.JobID, a.AgentID, a.BidCents, a.Pitch, snap, a.MatchScore, a.Status, a.CreatedAt).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ApplicationRepo) GetByJobAndAgent(ctx context.Context, jobID, agentID uuid.UUID) (*models.Application, error) {
	return scanApplication(r.pool.QueryRow(ctx, `
		SELECT id, job_id, agent_id, bid_cents, pitch, snapshot, match_score, status, created_at, updated_at
		FROM applications WHERE job_id = $1 AND agent_id = $2
	`, jobID, agentID))
}

func (r *ApplicationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, agent_id, bid_cents, pitch, snapshot, match_score, status, created_at, updated_at
		FROM applications WHERE job_id = $1 ORDER BY match_score DESC, created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *ApplicationRepo) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, agent_id, bid_cents, pitch, snapshot, match_score, status, created_at, updated_at
		FROM applications WHERE agent_id = $1 ORDER BY created_at DESC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *ApplicationRepo) Withdraw(ctx context.Context, jobID, agentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE applications SET status = 'withdrawn', updated_at = now()
		WHERE job_id = $1 AND agent_id = $2 AND status = 'pending'
	`, jobID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *ApplicationRepo) AcceptAndRejectSiblings(ctx context.Context, tx pgx.Tx, jobID, winnerAgentID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		UPDATE applications SET status = 'accepted', updated_at = now()
		WHERE job_id = $1 AND agent_id = $2
	`, jobID, winnerAgentID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE applications SET status = 'rejected', updated_at = now()
		WHERE job_id = $1 AND agent_id <> $2 AND status = 'pending'
	`, jobID, winnerAgentID)
	return err
}

func (r *ApplicationRepo) RejectAllPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE applications SET status = 'rejected', updated_at = now()
		WHERE job_id = $1 AND status = 'pending'
	`, jobID)
	return err
}

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	var snap []byte
	err := row.Scan(&a.ID, &a.JobID, &a.AgentID, &a.BidCents, &a.Pitch, &snap,
		&a.MatchScore, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snap, &a.Snapshot); err != nil {
		return nil, err
	}
	return &a, nil
}
