package reputation

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentjobs/backend/internal/models"
)

// mockStore keeps reputation records in memory.
type mockStore struct {
	records map[uuid.UUID]*models.ReputationRecord
}

func newMockStore() *mockStore {
	return &mockStore{records: map[uuid.UUID]*models.ReputationRecord{}}
}

func (m *mockStore) Get(_ context.Context, _ pgx.Tx, agentID uuid.UUID) (*models.ReputationRecord, error) {
	if rec, ok := m.records[agentID]; ok {
		cp := *rec
		return &cp, nil
	}
	return &models.ReputationRecord{AgentID: agentID, TrustLevel: models.TrustNew}, nil
}

func (m *mockStore) Upsert(_ context.Context, _ pgx.Tx, rec *models.ReputationRecord) error {
	cp := *rec
	m.records[rec.AgentID] = &cp
	return nil
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecordSuccessBlend(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)
	agent := uuid.New()
	ctx := context.Background()

	rec, err := svc.RecordSuccess(ctx, nil, agent, Scores{Quality: 5, Timeliness: 4, Communication: 3})
	if err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if rec.JobsCompleted != 1 || rec.JobsFailed != 0 {
		t.Errorf("counts: %+v", rec)
	}
	if !almost(rec.CompletionRate, 1.0) {
		t.Errorf("completion rate: %v", rec.CompletionRate)
	}
	// 0.3*(1.0*5) + 0.4*5 + 0.2*4 + 0.1*3 = 1.5 + 2.0 + 0.8 + 0.3 = 4.6
	if !almost(rec.Rating, 4.6) {
		t.Errorf("rating: got %v, want 4.6", rec.Rating)
	}
}

func TestRecordFailureDragsAverages(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)
	agent := uuid.New()
	ctx := context.Background()

	if _, err := svc.RecordSuccess(ctx, nil, agent, Scores{Quality: 5, Timeliness: 5, Communication: 5}); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	rec, err := svc.RecordFailure(ctx, nil, agent)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if rec.JobsCompleted != 1 || rec.JobsFailed != 1 {
		t.Errorf("counts: %+v", rec)
	}
	// Component averages: (5 + 1) / 2 = 3; completion rate 0.5.
	if !almost(rec.QualityScore, 3.0) || !almost(rec.Timeliness, 3.0) || !almost(rec.Communication, 3.0) {
		t.Errorf("averages: %+v", rec)
	}
	// 0.3*(0.5*5) + 0.4*3 + 0.2*3 + 0.1*3 = 0.75 + 1.2 + 0.6 + 0.3 = 2.85
	if !almost(rec.Rating, 2.85) {
		t.Errorf("rating: got %v, want 2.85", rec.Rating)
	}
}

func TestRatingClampedToBand(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)
	agent := uuid.New()
	ctx := context.Background()

	// All failures: raw blend is 0.3*0 + 0.7*1 = 0.7, clamped up to 1.
	for i := 0; i < 3; i++ {
		if _, err := svc.RecordFailure(ctx, nil, agent); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	rec, _ := store.Get(ctx, nil, agent)
	if !almost(rec.Rating, 1.0) {
		t.Errorf("rating floor: got %v, want 1.0", rec.Rating)
	}
}

func TestScoresValidation(t *testing.T) {
	svc := NewService(newMockStore())
	ctx := context.Background()

	for _, bad := range []Scores{
		{Quality: 0, Timeliness: 3, Communication: 3},
		{Quality: 3, Timeliness: 6, Communication: 3},
		{Quality: 3, Timeliness: 3, Communication: -1},
	} {
		if _, err := svc.RecordSuccess(ctx, nil, uuid.New(), bad); err == nil {
			t.Errorf("expected validation error for %+v", bad)
		}
	}
}

func TestTrustTiers(t *testing.T) {
	cases := []struct {
		completed int
		rating    float64
		want      models.TrustLevel
	}{
		{0, 5.0, models.TrustNew},
		{4, 5.0, models.TrustNew},
		{5, 3.9, models.TrustNew},
		{5, 4.0, models.TrustVerified},
		{24, 4.9, models.TrustVerified},
		{25, 4.4, models.TrustVerified},
		{25, 4.5, models.TrustTrusted},
		{99, 5.0, models.TrustTrusted},
		{100, 4.7, models.TrustTrusted},
		{100, 4.8, models.TrustElite},
		{500, 4.9, models.TrustElite},
	}
	for _, c := range cases {
		if got := TrustFor(c.completed, c.rating); got != c.want {
			t.Errorf("TrustFor(%d, %.1f) = %s, want %s", c.completed, c.rating, got, c.want)
		}
	}
}

func TestTrustProgression(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)
	agent := uuid.New()
	ctx := context.Background()

	var rec *models.ReputationRecord
	var err error
	for i := 0; i < 5; i++ {
		rec, err = svc.RecordSuccess(ctx, nil, agent, Scores{Quality: 5, Timeliness: 5, Communication: 5})
		if err != nil {
			t.Fatalf("RecordSuccess %d: %v", i, err)
		}
	}
	if rec.TrustLevel != models.TrustVerified {
		t.Errorf("after 5 perfect jobs: got %s, want verified", rec.TrustLevel)
	}
	for i := 5; i < 25; i++ {
		rec, _ = svc.RecordSuccess(ctx, nil, agent, Scores{Quality: 5, Timeliness: 5, Communication: 5})
	}
	if rec.TrustLevel != models.TrustTrusted {
		t.Errorf("after 25 perfect jobs: got %s, want trusted", rec.TrustLevel)
	}
}
