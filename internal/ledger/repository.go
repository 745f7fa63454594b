package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjobs/backend/internal/models"
)

// AccountRepo implements AccountStore against the accounts table.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// MoveToHold deducts from balance_cents and adds to hold_cents in one
// conditional UPDATE; zero rows affected means the balance was too low.
func (r *AccountRepo) MoveToHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents - $1, hold_cents = hold_cents + $1, updated_at = now()
		WHERE id = $2 AND balance_cents >= $1
		RETURNING balance_cents
	`, amountCents, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newBalance, err
}

func (r *AccountRepo) ReleaseHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET hold_cents = hold_cents - $1, updated_at = now() WHERE id = $2
	`, amountCents, id)
	return err
}

func (r *AccountRepo) Credit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance_cents
	`, amountCents, id).Scan(&newBalance)
	return newBalance, err
}

// Deposit adds funds outside any escrow flow (simulated top-up).
func (r *AccountRepo) Deposit(ctx context.Context, id uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance_cents
	`, amountCents, id).Scan(&newBalance)
	return newBalance, err
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, balance_cents, hold_cents, is_system_account, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.BalanceCents, &a.HoldCents,
		&a.IsSystemAccount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// HoldRepo implements HoldStore against the escrow_holds table.
type HoldRepo struct {
	pool *pgxpool.Pool
}

func NewHoldRepo(pool *pgxpool.Pool) *HoldRepo {
	return &HoldRepo{pool: pool}
}

func (r *HoldRepo) Create(ctx context.Context, tx pgx.Tx, h *models.EscrowHold) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_holds (id, job_id, payer_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ID, h.JobID, h.PayerID, h.AmountCents, h.Status, h.CreatedAt)
	return err
}

func (r *HoldRepo) GetHeldByJobForUpdate(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.EscrowHold, error) {
	var h models.EscrowHold
	err := tx.QueryRow(ctx, `
		SELECT id, job_id, payer_id, amount_cents, status, created_at
		FROM escrow_holds WHERE job_id = $1 AND status = 'held'
		FOR UPDATE
	`, jobID).Scan(&h.ID, &h.JobID, &h.PayerID, &h.AmountCents, &h.Status, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveHold
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *HoldRepo) MarkReleased(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, agentShare, platformFee int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_holds
		SET status = 'released', agent_share_cents = $1, platform_fee_cents = $2, settled_at = now()
		WHERE id = $3 AND status = 'held'
	`, agentShare, platformFee, holdID)
	return err
}

func (r *HoldRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_holds SET status = 'refunded', settled_at = now()
		WHERE id = $1 AND status = 'held'
	`, holdID)
	return err
}

// EntryRepo implements EntryStore against the ledger_entries table.
type EntryRepo struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) *EntryRepo {
	return &EntryRepo{pool: pool}
}

func (r *EntryRepo) Create(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, job_id, entry_type, amount_cents, balance_after_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.AccountID, e.JobID, e.EntryType, e.AmountCents, e.BalanceAfter)
	return err
}

// ListByAccount returns the account's entries newest-first.
func (r *EntryRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, entry_type, amount_cents, balance_after_cents, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.EntryType, &e.AmountCents, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
