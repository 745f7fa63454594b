package registry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/liveness"
	"github.com/agentjobs/backend/internal/models"
)

// --- Store mock ---

type mockStore struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*models.AgentProfile
}

func newMockStore() *mockStore {
	return &mockStore{agents: make(map[uuid.UUID]*models.AgentProfile)}
}

func (m *mockStore) Create(_ context.Context, a *models.AgentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) GetByID(_ context.Context, id uuid.UUID) (*models.AgentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetByKeyHash(_ context.Context, keyHash string) (*models.AgentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.APIKeyHash == keyHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) UpdateCapabilities(_ context.Context, a *models.AgentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) TouchHeartbeat(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; ok && a.Status != models.AgentStatusRetired {
		a.Status = models.AgentStatusOnline
		a.LastHeartbeat = &at
	}
	return nil
}

func (m *mockStore) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; ok {
		a.Status = status
	}
	return nil
}

func (m *mockStore) ListByStatus(_ context.Context, status string) ([]*models.AgentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AgentProfile
	for _, a := range m.agents {
		if a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[id].Status
}

// --- WorkFeed mock ---

type mockWorkFeed struct {
	assigned map[uuid.UUID][]*models.JobPosting
}

func (m *mockWorkFeed) ListAssignedTo(_ context.Context, agentID uuid.UUID) ([]*models.JobPosting, error) {
	return m.assigned[agentID], nil
}

func newTestService() (*Service, *mockStore, *mockWorkFeed, *liveness.Tracker) {
	store := newMockStore()
	work := &mockWorkFeed{assigned: map[uuid.UUID][]*models.JobPosting{}}
	tracker := liveness.NewTracker(90 * time.Second)
	return NewService(store, work, tracker, nil), store, work, tracker
}

func registerInput() RegisterInput {
	return RegisterInput{
		Name:            "research-bot",
		Model:           "frontier-large",
		Tools:           []string{"web_search"},
		Specializations: []string{"research"},
		ContextWindow:   32000,
		Throughput:      map[string]float64{"research": 120},
		Accuracy:        map[string]float64{"research": 0.92},
		HourlyRateCents: 500,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRegisterIssuesOneTimeKey(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	agent, rawKey, err := svc.Register(ctx, uuid.New(), registerInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(rawKey, "agent_") {
		t.Errorf("raw key: %q", rawKey)
	}
	if agent.TrustLevel != models.TrustNew || agent.Status != models.AgentStatusOffline {
		t.Errorf("fresh agent: %+v", agent)
	}

	// Only the hash is stored, and the raw key resolves through it.
	stored, _ := store.GetByID(ctx, agent.ID)
	if stored.APIKeyHash == rawKey || stored.APIKeyHash == "" {
		t.Errorf("stored key hash: %q", stored.APIKeyHash)
	}
	resolved, err := svc.Authenticate(ctx, rawKey)
	if err != nil || resolved.ID != agent.ID {
		t.Errorf("Authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "agent_bogus"); err != ErrInvalidKey {
		t.Errorf("bogus key: %v", err)
	}
}

func TestRegisterValidatesCapabilities(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	bad := registerInput()
	bad.Accuracy = map[string]float64{"research": 1.5}
	if _, _, err := svc.Register(ctx, uuid.New(), bad); err == nil {
		t.Error("accuracy > 1 accepted")
	}

	bad = registerInput()
	bad.Throughput = map[string]float64{"": 10}
	if _, _, err := svc.Register(ctx, uuid.New(), bad); err == nil {
		t.Error("empty category accepted")
	}

	bad = registerInput()
	bad.Name = ""
	if _, _, err := svc.Register(ctx, uuid.New(), bad); err == nil {
		t.Error("empty name accepted")
	}
}

func TestHeartbeatMarksOnlineAndReturnsWork(t *testing.T) {
	svc, store, work, tracker := newTestService()
	ctx := context.Background()

	agent, _, err := svc.Register(ctx, uuid.New(), registerInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	job := &models.JobPosting{ID: uuid.New(), Status: models.JobStatusHired}
	work.assigned[agent.ID] = []*models.JobPosting{job}

	result, err := svc.Heartbeat(ctx, agent.ID, nil)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if result.Agent.Status != models.AgentStatusOnline {
		t.Errorf("status: %s", result.Agent.Status)
	}
	if len(result.AssignedJobs) != 1 || result.AssignedJobs[0].ID != job.ID {
		t.Errorf("assigned jobs: %+v", result.AssignedJobs)
	}
	if !tracker.Online(agent.ID) {
		t.Error("tracker not updated")
	}
	if store.status(agent.ID) != models.AgentStatusOnline {
		t.Errorf("durable status: %s", store.status(agent.ID))
	}
}

func TestHeartbeatAppliesCapabilityUpdate(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	agent, _, _ := svc.Register(ctx, uuid.New(), registerInput())
	window := 64000
	if _, err := svc.Heartbeat(ctx, agent.ID, &CapabilityUpdate{
		ContextWindow: &window,
		Accuracy:      map[string]float64{"research": 0.95, "coding": 0.8},
	}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	updated, _ := store.GetByID(ctx, agent.ID)
	if updated.ContextWindow != 64000 {
		t.Errorf("context window: %d", updated.ContextWindow)
	}
	if updated.Accuracy["coding"] != 0.8 {
		t.Errorf("accuracy: %+v", updated.Accuracy)
	}
	// Untouched fields stay.
	if len(updated.Tools) != 1 || updated.Tools[0] != "web_search" {
		t.Errorf("tools: %+v", updated.Tools)
	}

	// Invalid updates are rejected.
	if _, err := svc.Heartbeat(ctx, agent.ID, &CapabilityUpdate{
		Accuracy: map[string]float64{"research": 2.0},
	}); err == nil {
		t.Error("invalid accuracy update accepted")
	}
}

func TestRetiredAgentCannotHeartbeat(t *testing.T) {
	svc, _, _, tracker := newTestService()
	ctx := context.Background()

	agent, _, _ := svc.Register(ctx, uuid.New(), registerInput())
	if _, err := svc.Heartbeat(ctx, agent.ID, nil); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := svc.Retire(ctx, agent.ID); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if tracker.Online(agent.ID) {
		t.Error("retired agent still tracked online")
	}
	if _, err := svc.Heartbeat(ctx, agent.ID, nil); err != ErrRetired {
		t.Errorf("retired heartbeat: %v", err)
	}
}

func TestMarkStaleOffline(t *testing.T) {
	svc, store, _, tracker := newTestService()
	ctx := context.Background()

	agent, _, _ := svc.Register(ctx, uuid.New(), registerInput())
	if _, err := svc.Heartbeat(ctx, agent.ID, nil); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Backdate the heartbeat so the tracker considers it stale.
	tracker.Forget(agent.ID)
	tracker.Seed(agent.ID, time.Now().Add(-10*time.Minute))

	flipped, err := svc.MarkStaleOffline(ctx)
	if err != nil {
		t.Fatalf("MarkStaleOffline: %v", err)
	}
	if flipped != 1 {
		t.Fatalf("flipped: %d", flipped)
	}
	if store.status(agent.ID) != models.AgentStatusOffline {
		t.Errorf("durable status: %s", store.status(agent.ID))
	}
}
