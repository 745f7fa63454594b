package messages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjobs/backend/internal/models"
)

const messageColumns = `id, job_id, sender, msg_type, content, attachments,
	read_by_poster, read_by_agent, created_at`

// Repo implements Store against the messages table.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Insert(ctx context.Context, m *models.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (id, job_id, sender, msg_type, content, attachments, read_by_poster, read_by_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.JobID, m.Sender, m.Type, m.Content, m.Attachments, m.ReadByPoster, m.ReadByAgent, m.CreatedAt)
	return err
}

func (r *Repo) ListByJob(ctx context.Context, jobID uuid.UUID, since time.Time) ([]*models.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE job_id = $1 AND created_at > $2
		ORDER BY created_at ASC
	`, jobID, since)
}

func (r *Repo) MarkRead(ctx context.Context, jobID uuid.UUID, reader string) error {
	column := "read_by_agent"
	if reader == models.SenderPoster {
		column = "read_by_poster"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET `+column+` = TRUE WHERE job_id = $1 AND NOT `+column+`
	`, jobID)
	return err
}

func (r *Repo) ListUnreadForAgent(ctx context.Context, jobID uuid.UUID) ([]*models.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE job_id = $1 AND sender = 'poster' AND NOT read_by_agent
		ORDER BY created_at ASC
	`, jobID)
}

func (r *Repo) query(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.JobID, &m.Sender, &m.Type, &m.Content, &m.Attachments,
			&m.ReadByPoster, &m.ReadByAgent, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
