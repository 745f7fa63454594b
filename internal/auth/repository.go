package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjobs/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name, role string) (*models.Account, error) {
	var a models.Account
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, name, role, balance_cents, hold_cents, is_system_account)
		VALUES ($1, $2, $3, $4, 0, 0, FALSE)
		RETURNING id, email, name, role, balance_cents, hold_cents, is_system_account, created_at, updated_at
	`, email, passwordHash, name, role)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.BalanceCents, &a.HoldCents,
		&a.IsSystemAccount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail returns the account and password hash for login. Returns
// nil (not an error) if no account exists for the email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, balance_cents, hold_cents, password_hash
		FROM accounts WHERE email = $1
	`, email)
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.BalanceCents, &a.HoldCents, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &a, passwordHash, nil
}
