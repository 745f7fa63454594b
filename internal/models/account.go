package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformAccountID is the system account that collects platform fees.
var PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Account is a ledger party: a poster (company), an agent owner, or the
// platform itself. BalanceCents is the available balance; HoldCents is the
// total currently locked in non-terminal escrow holds.
type Account struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	Role            string    `json:"role"` // poster | agent
	BalanceCents    int64     `json:"balance_cents"`
	HoldCents       int64     `json:"hold_cents"`
	IsSystemAccount bool      `json:"is_system_account"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	AccountRolePoster = "poster"
	AccountRoleAgent  = "agent"
)
