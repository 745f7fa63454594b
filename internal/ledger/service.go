// Package ledger manages account balances and escrow holds. Every mutation
// happens inside a caller-supplied transaction so job status transitions
// and their escrow step commit or roll back as one unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentjobs/backend/internal/models"
)

// ErrInsufficientFunds is returned when the payer's available balance
// cannot cover the requested hold.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNoActiveHold is returned when a release or refund finds no held
// escrow for the job.
var ErrNoActiveHold = errors.New("no active escrow hold for job")

// AccountStore is the minimal account access the ledger needs. MoveToHold
// must be conditional on sufficient available balance and serialized per
// account (row lock or equivalent) so concurrent settlements preserve the
// conservation invariant.
type AccountStore interface {
	MoveToHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) (newBalance int64, err error)
	ReleaseHold(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) error
	Credit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amountCents int64) (newBalance int64, err error)
}

// HoldStore persists escrow holds.
type HoldStore interface {
	Create(ctx context.Context, tx pgx.Tx, h *models.EscrowHold) error
	GetHeldByJobForUpdate(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.EscrowHold, error)
	MarkReleased(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, agentShare, platformFee int64) error
	MarkRefunded(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) error
}

// EntryStore appends audit-trail ledger entries.
type EntryStore interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// Settlement is the split produced by a release.
type Settlement struct {
	AgentShareCents  int64 `json:"agent_share_cents"`
	PlatformFeeCents int64 `json:"platform_fee_cents"`
}

// Service implements hold/release/refund over the stores.
type Service struct {
	Accounts AccountStore
	Holds    HoldStore
	Entries  EntryStore
}

// NewService returns a ledger Service.
func NewService(accounts AccountStore, holds HoldStore, entries EntryStore) *Service {
	return &Service{Accounts: accounts, Holds: holds, Entries: entries}
}

// Hold moves amountCents from the payer's available balance into a new
// held escrow hold for the job. Fails with ErrInsufficientFunds when the
// available balance is too low; no state changes in that case.
func (s *Service) Hold(ctx context.Context, tx pgx.Tx, jobID, payerID uuid.UUID, amountCents int64) (*models.EscrowHold, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("hold amount must be positive, got %d", amountCents)
	}
	newBalance, err := s.Accounts.MoveToHold(ctx, tx, payerID, amountCents)
	if err != nil {
		return nil, err
	}
	hold := &models.EscrowHold{
		ID:          uuid.New(),
		JobID:       jobID,
		PayerID:     payerID,
		AmountCents: amountCents,
		Status:      models.HoldHeld,
		CreatedAt:   time.Now(),
	}
	if err := s.Holds.Create(ctx, tx, hold); err != nil {
		return nil, err
	}
	if err := s.Entries.Create(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: payerID, JobID: &jobID,
		EntryType: models.EntryEscrowHold, AmountCents: amountCents, BalanceAfter: int64Ptr(newBalance),
	}); err != nil {
		return nil, err
	}
	return hold, nil
}

// Release settles the job's held escrow: the payee receives the held
// amount minus the platform fee, the platform account receives the fee,
// and the hold is marked released. The split always sums to the held
// amount exactly.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, jobID, payeeID uuid.UUID, feePercent int) (*Settlement, error) {
	hold, err := s.Holds.GetHeldByJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	fee := hold.AmountCents * int64(feePercent) / 100
	share := hold.AmountCents - fee

	if err := s.Accounts.ReleaseHold(ctx, tx, hold.PayerID, hold.AmountCents); err != nil {
		return nil, err
	}
	newPayee, err := s.Accounts.Credit(ctx, tx, payeeID, share)
	if err != nil {
		return nil, err
	}
	if err := s.Entries.Create(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: payeeID, JobID: &jobID,
		EntryType: models.EntryAgentEarning, AmountCents: share, BalanceAfter: int64Ptr(newPayee),
	}); err != nil {
		return nil, err
	}

	newPlatform, err := s.Accounts.Credit(ctx, tx, models.PlatformAccountID, fee)
	if err != nil {
		return nil, err
	}
	if err := s.Entries.Create(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: models.PlatformAccountID, JobID: &jobID,
		EntryType: models.EntryPlatformFee, AmountCents: fee, BalanceAfter: int64Ptr(newPlatform),
	}); err != nil {
		return nil, err
	}

	if err := s.Holds.MarkReleased(ctx, tx, hold.ID, share, fee); err != nil {
		return nil, err
	}
	return &Settlement{AgentShareCents: share, PlatformFeeCents: fee}, nil
}

// Refund returns the job's held escrow to the original payer and marks
// the hold refunded.
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	hold, err := s.Holds.GetHeldByJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if err := s.Accounts.ReleaseHold(ctx, tx, hold.PayerID, hold.AmountCents); err != nil {
		return err
	}
	newBalance, err := s.Accounts.Credit(ctx, tx, hold.PayerID, hold.AmountCents)
	if err != nil {
		return err
	}
	if err := s.Entries.Create(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: hold.PayerID, JobID: &jobID,
		EntryType: models.EntryRefund, AmountCents: hold.AmountCents, BalanceAfter: int64Ptr(newBalance),
	}); err != nil {
		return err
	}
	return s.Holds.MarkRefunded(ctx, tx, hold.ID)
}

func int64Ptr(n int64) *int64 { return &n }
