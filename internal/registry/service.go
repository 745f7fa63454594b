// Package registry manages agent profiles: registration with a one-time
// API key, capability updates, and the heartbeat that keeps an agent
// hireable.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/liveness"
	"github.com/agentjobs/backend/internal/metrics"
	"github.com/agentjobs/backend/internal/models"
)

var (
	// ErrInvalidKey is returned when an API key does not resolve to an agent.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrNotFound is returned for unknown agent ids.
	ErrNotFound = errors.New("agent not found")

	// ErrRetired is returned when a retired agent heartbeats or applies.
	ErrRetired = errors.New("agent is retired")
)

// Store persists agent profiles.
type Store interface {
	Create(ctx context.Context, a *models.AgentProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentProfile, error)
	GetByKeyHash(ctx context.Context, keyHash string) (*models.AgentProfile, error)
	UpdateCapabilities(ctx context.Context, a *models.AgentProfile) error
	TouchHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	ListByStatus(ctx context.Context, status string) ([]*models.AgentProfile, error)
}

// WorkFeed lists the jobs currently assigned to an agent. The heartbeat
// response carries them so polling agents learn about new hires.
type WorkFeed interface {
	ListAssignedTo(ctx context.Context, agentID uuid.UUID) ([]*models.JobPosting, error)
}

// RegisterInput is the agent's declared identity and capabilities.
type RegisterInput struct {
	Name            string
	Model           string
	Tools           []string
	Specializations []string
	ContextWindow   int
	Throughput      map[string]float64
	Accuracy        map[string]float64
	HourlyRateCents int64
}

// CapabilityUpdate carries optional heartbeat-time profile changes. Nil
// fields leave the current values in place.
type CapabilityUpdate struct {
	Tools           []string
	Specializations []string
	ContextWindow   *int
	Throughput      map[string]float64
	Accuracy        map[string]float64
	HourlyRateCents *int64
}

// Service implements the registry over a Store.
type Service struct {
	store   Store
	work    WorkFeed
	tracker *liveness.Tracker
	log     *slog.Logger
}

func NewService(store Store, work WorkFeed, tracker *liveness.Tracker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, work: work, tracker: tracker, log: log}
}

// Register creates the profile and returns it along with the raw API
// key. The key is shown exactly once; only its hash is stored.
func (s *Service) Register(ctx context.Context, accountID uuid.UUID, in RegisterInput) (*models.AgentProfile, string, error) {
	if in.Name == "" {
		return nil, "", fmt.Errorf("agent name is required")
	}
	if err := validateCapabilities(in.ContextWindow, in.HourlyRateCents, in.Throughput, in.Accuracy); err != nil {
		return nil, "", err
	}

	rawKey, keyHash, err := newAPIKey()
	if err != nil {
		return nil, "", err
	}
	now := time.Now()
	agent := &models.AgentProfile{
		ID:              uuid.New(),
		AccountID:       accountID,
		Name:            in.Name,
		Model:           in.Model,
		APIKeyHash:      keyHash,
		Tools:           in.Tools,
		Specializations: in.Specializations,
		ContextWindow:   in.ContextWindow,
		Throughput:      in.Throughput,
		Accuracy:        in.Accuracy,
		HourlyRateCents: in.HourlyRateCents,
		Status:          models.AgentStatusOffline,
		TrustLevel:      models.TrustNew,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, agent); err != nil {
		return nil, "", err
	}
	metrics.AgentsRegistered.Inc()
	s.log.Info("agent registered", "agent_id", agent.ID, "account_id", accountID, "name", in.Name)
	return agent, rawKey, nil
}

// Authenticate resolves a raw API key to its agent.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*models.AgentProfile, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	agent, err := s.store.GetByKeyHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidKey
	}
	return agent, nil
}

// HeartbeatResult is what a heartbeat returns to the agent: its current
// profile and any jobs it has been hired for.
type HeartbeatResult struct {
	Agent        *models.AgentProfile `json:"agent"`
	AssignedJobs []*models.JobPosting `json:"assigned_jobs"`
}

// Heartbeat records liveness, applies any capability update, and
// returns the agent's assigned work.
func (s *Service) Heartbeat(ctx context.Context, agentID uuid.UUID, update *CapabilityUpdate) (*HeartbeatResult, error) {
	agent, err := s.store.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status == models.AgentStatusRetired {
		return nil, ErrRetired
	}

	at := s.tracker.Heartbeat(agentID)
	if err := s.store.TouchHeartbeat(ctx, agentID, at); err != nil {
		return nil, err
	}
	agent.Status = models.AgentStatusOnline
	agent.LastHeartbeat = &at

	if update != nil {
		applyUpdate(agent, update)
		if err := validateCapabilities(agent.ContextWindow, agent.HourlyRateCents, agent.Throughput, agent.Accuracy); err != nil {
			return nil, err
		}
		if err := s.store.UpdateCapabilities(ctx, agent); err != nil {
			return nil, err
		}
	}

	assigned, err := s.work.ListAssignedTo(ctx, agentID)
	if err != nil {
		return nil, err
	}
	metrics.HeartbeatsReceived.Inc()
	return &HeartbeatResult{Agent: agent, AssignedJobs: assigned}, nil
}

// Retire takes the agent off the market permanently. Profiles are never
// deleted.
func (s *Service) Retire(ctx context.Context, agentID uuid.UUID) error {
	if err := s.store.SetStatus(ctx, agentID, models.AgentStatusRetired); err != nil {
		return err
	}
	s.tracker.Forget(agentID)
	s.log.Info("agent retired", "agent_id", agentID)
	return nil
}

// MarkStaleOffline flips the durable status of agents whose heartbeat
// lapsed. Called from the periodic sweep.
func (s *Service) MarkStaleOffline(ctx context.Context) (int, error) {
	var flipped int
	for _, agentID := range s.tracker.Stale() {
		if err := s.store.SetStatus(ctx, agentID, models.AgentStatusOffline); err != nil {
			s.log.Error("mark offline failed", "agent_id", agentID, "error", err)
			continue
		}
		s.tracker.Forget(agentID)
		flipped++
	}
	return flipped, nil
}

// SeedPresence primes the liveness tracker from durable heartbeat
// timestamps, so a process restart does not instantly strand agents
// that were online. Stale entries age out through the normal sweep.
func (s *Service) SeedPresence(ctx context.Context) (int, error) {
	online, err := s.store.ListByStatus(ctx, models.AgentStatusOnline)
	if err != nil {
		return 0, err
	}
	var seeded int
	for _, agent := range online {
		if agent.LastHeartbeat == nil {
			continue
		}
		s.tracker.Seed(agent.ID, *agent.LastHeartbeat)
		seeded++
	}
	return seeded, nil
}

// Get returns one agent profile.
func (s *Service) Get(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	return s.store.GetByID(ctx, agentID)
}

// ListOnline returns agents currently marked online.
func (s *Service) ListOnline(ctx context.Context) ([]*models.AgentProfile, error) {
	return s.store.ListByStatus(ctx, models.AgentStatusOnline)
}

func applyUpdate(agent *models.AgentProfile, u *CapabilityUpdate) {
	if u.Tools != nil {
		agent.Tools = u.Tools
	}
	if u.Specializations != nil {
		agent.Specializations = u.Specializations
	}
	if u.ContextWindow != nil {
		agent.ContextWindow = *u.ContextWindow
	}
	if u.Throughput != nil {
		agent.Throughput = u.Throughput
	}
	if u.Accuracy != nil {
		agent.Accuracy = u.Accuracy
	}
	if u.HourlyRateCents != nil {
		agent.HourlyRateCents = *u.HourlyRateCents
	}
}

// validateCapabilities rejects malformed capability maps at write time
// instead of trusting them at read time.
func validateCapabilities(contextWindow int, rateCents int64, throughput, accuracy map[string]float64) error {
	if contextWindow < 0 {
		return fmt.Errorf("context window must be >= 0")
	}
	if rateCents < 0 {
		return fmt.Errorf("hourly rate must be >= 0")
	}
	for category, v := range throughput {
		if category == "" {
			return fmt.Errorf("throughput category must not be empty")
		}
		if v < 0 {
			return fmt.Errorf("throughput for %q must be >= 0", category)
		}
	}
	for category, v := range accuracy {
		if category == "" {
			return fmt.Errorf("accuracy category must not be empty")
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("accuracy for %q must be in [0,1]", category)
		}
	}
	return nil
}

func newAPIKey() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = "agent_" + hex.EncodeToString(buf)
	return raw, hashKey(raw), nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
