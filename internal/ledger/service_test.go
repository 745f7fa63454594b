package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentjobs/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore, HoldStore and EntryStore.
// These let us test the real Service logic without a database.
// ---------------------------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	holds    map[uuid.UUID]int64
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{balances: map[uuid.UUID]int64{}, holds: map[uuid.UUID]int64{}}
}

func (m *mockAccounts) MoveToHold(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[id] < amount {
		return 0, ErrInsufficientFunds
	}
	m.balances[id] -= amount
	m.holds[id] += amount
	return m.balances[id], nil
}

func (m *mockAccounts) ReleaseHold(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds[id] < amount {
		return fmt.Errorf("hold underflow for %s", id)
	}
	m.holds[id] -= amount
	return nil
}

func (m *mockAccounts) Credit(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] += amount
	return m.balances[id], nil
}

func (m *mockAccounts) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

// total returns sum(available) + sum(held) across all accounts -- the
// quantity the conservation invariant says never changes.
func (m *mockAccounts) total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t int64
	for _, b := range m.balances {
		t += b
	}
	for _, h := range m.holds {
		t += h
	}
	return t
}

// ---

type mockHolds struct {
	mu    sync.Mutex
	byJob map[uuid.UUID]*models.EscrowHold
}

func newMockHolds() *mockHolds { return &mockHolds{byJob: map[uuid.UUID]*models.EscrowHold{}} }

func (m *mockHolds) Create(_ context.Context, _ pgx.Tx, h *models.EscrowHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byJob[h.JobID]; ok && existing.Status == models.HoldHeld {
		return fmt.Errorf("job %s already has a held escrow", h.JobID)
	}
	cp := *h
	m.byJob[h.JobID] = &cp
	return nil
}

func (m *mockHolds) GetHeldByJobForUpdate(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (*models.EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.byJob[jobID]
	if !ok || h.Status != models.HoldHeld {
		return nil, ErrNoActiveHold
	}
	cp := *h
	return &cp, nil
}

func (m *mockHolds) MarkReleased(_ context.Context, _ pgx.Tx, holdID uuid.UUID, share, fee int64) error {
	return m.setStatus(holdID, models.HoldReleased, share, fee)
}

func (m *mockHolds) MarkRefunded(_ context.Context, _ pgx.Tx, holdID uuid.UUID) error {
	return m.setStatus(holdID, models.HoldRefunded, 0, 0)
}

func (m *mockHolds) setStatus(holdID uuid.UUID, status string, share, fee int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.byJob {
		if h.ID == holdID {
			h.Status = status
			h.AgentShareCents = share
			h.PlatformFeeCents = fee
			return nil
		}
	}
	return fmt.Errorf("hold %s not found", holdID)
}

func (m *mockHolds) status(jobID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.byJob[jobID]; ok {
		return h.Status
	}
	return ""
}

// ---

type mockEntries struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func (m *mockEntries) Create(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockEntries) byType(entryType string) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

func newService(accounts *mockAccounts) (*Service, *mockHolds, *mockEntries) {
	holds := newMockHolds()
	entries := &mockEntries{}
	return NewService(accounts, holds, entries), holds, entries
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHoldDeductsAndRecords(t *testing.T) {
	payer := uuid.New()
	job := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 100_00

	svc, holds, entries := newService(accounts)
	ctx := context.Background()

	hold, err := svc.Hold(ctx, nil, job, payer, 40_00)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if got := accounts.balance(payer); got != 60_00 {
		t.Errorf("payer balance: got %d, want 6000", got)
	}
	if hold.AmountCents != 40_00 || hold.Status != models.HoldHeld {
		t.Errorf("hold: %+v", hold)
	}
	if holds.status(job) != models.HoldHeld {
		t.Errorf("hold not stored as held")
	}
	locks := entries.byType(models.EntryEscrowHold)
	if len(locks) != 1 || locks[0].AmountCents != 40_00 || locks[0].AccountID != payer {
		t.Errorf("escrow_hold entry: %+v", locks)
	}
}

func TestHoldInsufficientFunds(t *testing.T) {
	payer := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 10_00

	svc, holds, _ := newService(accounts)
	job := uuid.New()
	if _, err := svc.Hold(context.Background(), nil, job, payer, 50_00); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// Nothing moved, nothing stored.
	if got := accounts.balance(payer); got != 10_00 {
		t.Errorf("balance changed on failed hold: %d", got)
	}
	if holds.status(job) != "" {
		t.Errorf("hold stored despite failure")
	}
}

// Scenario from the settlement contract: budget 100, fee 10% -> agent +90,
// platform +10, hold released.
func TestReleaseSplitsFee(t *testing.T) {
	payer := uuid.New()
	agent := uuid.New()
	job := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 100_00

	svc, holds, entries := newService(accounts)
	ctx := context.Background()

	if _, err := svc.Hold(ctx, nil, job, payer, 100_00); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	settlement, err := svc.Release(ctx, nil, job, agent, 10)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if settlement.AgentShareCents != 90_00 || settlement.PlatformFeeCents != 10_00 {
		t.Errorf("settlement split: %+v", settlement)
	}
	if got := accounts.balance(agent); got != 90_00 {
		t.Errorf("agent balance: got %d, want 9000", got)
	}
	if got := accounts.balance(models.PlatformAccountID); got != 10_00 {
		t.Errorf("platform balance: got %d, want 1000", got)
	}
	if got := accounts.balance(payer); got != 0 {
		t.Errorf("payer balance: got %d, want 0", got)
	}
	if holds.status(job) != models.HoldReleased {
		t.Errorf("hold status: %s", holds.status(job))
	}
	if n := len(entries.byType(models.EntryAgentEarning)); n != 1 {
		t.Errorf("agent_earning entries: %d", n)
	}
	if n := len(entries.byType(models.EntryPlatformFee)); n != 1 {
		t.Errorf("platform_fee entries: %d", n)
	}
}

func TestRefundRoundTrip(t *testing.T) {
	payer := uuid.New()
	job := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 77_23

	svc, holds, _ := newService(accounts)
	ctx := context.Background()

	if _, err := svc.Hold(ctx, nil, job, payer, 33_11); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := svc.Refund(ctx, nil, job); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	// hold -> refund restores the payer exactly.
	if got := accounts.balance(payer); got != 77_23 {
		t.Errorf("payer balance after refund: got %d, want 7723", got)
	}
	if holds.status(job) != models.HoldRefunded {
		t.Errorf("hold status: %s", holds.status(job))
	}
}

func TestDoubleSettleFails(t *testing.T) {
	payer := uuid.New()
	agent := uuid.New()
	job := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 50_00

	svc, _, _ := newService(accounts)
	ctx := context.Background()

	if _, err := svc.Hold(ctx, nil, job, payer, 50_00); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := svc.Release(ctx, nil, job, agent, 10); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := svc.Release(ctx, nil, job, agent, 10); err != ErrNoActiveHold {
		t.Errorf("second release: got %v, want ErrNoActiveHold", err)
	}
	if err := svc.Refund(ctx, nil, job); err != ErrNoActiveHold {
		t.Errorf("refund after release: got %v, want ErrNoActiveHold", err)
	}
}

// Conservation: sum(available) + sum(held) is invariant across any
// sequence of hold/release/refund operations.
func TestConservation(t *testing.T) {
	payer := uuid.New()
	agent := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 1000_00
	accounts.balances[agent] = 25_00

	svc, _, _ := newService(accounts)
	ctx := context.Background()
	initial := accounts.total()

	for i := 0; i < 10; i++ {
		job := uuid.New()
		if _, err := svc.Hold(ctx, nil, job, payer, 37_00); err != nil {
			t.Fatalf("Hold %d: %v", i, err)
		}
		if accounts.total() != initial {
			t.Fatalf("conservation broken after hold %d: %d != %d", i, accounts.total(), initial)
		}
		if i%2 == 0 {
			if _, err := svc.Release(ctx, nil, job, agent, 10); err != nil {
				t.Fatalf("Release %d: %v", i, err)
			}
		} else {
			if err := svc.Refund(ctx, nil, job); err != nil {
				t.Fatalf("Refund %d: %v", i, err)
			}
		}
		if accounts.total() != initial {
			t.Fatalf("conservation broken after settle %d: %d != %d", i, accounts.total(), initial)
		}
	}
}

func TestConcurrentHoldsSerialized(t *testing.T) {
	payer := uuid.New()
	accounts := newMockAccounts()
	accounts.balances[payer] = 100_00 // room for exactly 4 holds of 25

	svc, _, _ := newService(accounts)
	ctx := context.Background()
	initial := accounts.total()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Hold(ctx, nil, uuid.New(), payer, 25_00)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if err != ErrInsufficientFunds {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 4 {
		t.Errorf("holds accepted: got %d, want 4", ok)
	}
	if accounts.balance(payer) != 0 {
		t.Errorf("payer available: got %d, want 0", accounts.balance(payer))
	}
	if accounts.total() != initial {
		t.Errorf("conservation broken: %d != %d", accounts.total(), initial)
	}
}
