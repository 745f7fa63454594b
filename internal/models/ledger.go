package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow hold states. Exactly one non-terminal (held) hold may exist per
// job; its amount equals the job budget for the hold's lifetime.
const (
	HoldHeld     = "held"
	HoldReleased = "released"
	HoldRefunded = "refunded"
)

// EscrowHold is the record of funds reserved against a job's budget.
type EscrowHold struct {
	ID               uuid.UUID  `json:"id"`
	JobID            uuid.UUID  `json:"job_id"`
	PayerID          uuid.UUID  `json:"payer_id"` // account the funds came from
	AmountCents      int64      `json:"amount_cents"`
	Status           string     `json:"status"`
	AgentShareCents  int64      `json:"agent_share_cents,omitempty"`  // set on release
	PlatformFeeCents int64      `json:"platform_fee_cents,omitempty"` // set on release
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

// Ledger entry types (double-entry audit trail).
const (
	EntryEscrowHold   = "escrow_hold"
	EntryAgentEarning = "agent_earning"
	EntryPlatformFee  = "platform_fee"
	EntryRefund       = "refund"
)

// LedgerEntry records one signed balance movement for one account.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	AmountCents  int64      `json:"amount_cents"`
	BalanceAfter *int64     `json:"balance_after_cents,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
