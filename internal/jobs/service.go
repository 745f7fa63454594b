// Package jobs implements the job lifecycle: posting with escrow,
// applications, hiring, delivery, settlement, and the expiry sweep.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentjobs/backend/internal/ledger"
	"github.com/agentjobs/backend/internal/matching"
	"github.com/agentjobs/backend/internal/metrics"
	"github.com/agentjobs/backend/internal/models"
	"github.com/agentjobs/backend/internal/reputation"
)

// JobStore persists job postings. Claim methods are compare-and-set:
// they succeed only from the expected current status.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, job *models.JobPosting) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.JobPosting, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobPosting, error)
	ClaimOpen(ctx context.Context, tx pgx.Tx, jobID, agentID uuid.UUID, bidCents int64) error
	SetSubmitted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, deliverable json.RawMessage) error
	SetStatus(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status string) error
	ListOpen(ctx context.Context, category string, limit int) ([]*models.JobPosting, error)
	ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.JobPosting, error)
	DuePastDeadline(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListHired(ctx context.Context) ([]uuid.UUID, error)
}

// ApplicationStore persists applications. Upsert keys on (job, agent) so
// a re-application replaces the previous bid and snapshot while keeping
// the row's identity; it fails once the job has left the open state.
type ApplicationStore interface {
	Upsert(ctx context.Context, app *models.Application) error
	GetByJobAndAgent(ctx context.Context, jobID, agentID uuid.UUID) (*models.Application, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID) ([]*models.Application, error)
	// Withdraw marks the agent's pending application withdrawn.
	Withdraw(ctx context.Context, jobID, agentID uuid.UUID) error
	// AcceptAndRejectSiblings marks the winner accepted and every other
	// pending application on the job rejected, in the same transaction.
	AcceptAndRejectSiblings(ctx context.Context, tx pgx.Tx, jobID, winnerAgentID uuid.UUID) error
	RejectAllPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// AgentStore is the agent access the lifecycle needs.
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentProfile, error)
	// ApplyOutcome copies the recomputed reputation onto the profile.
	ApplyOutcome(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, rec *models.ReputationRecord) error
}

// Escrow is the slice of the ledger the lifecycle drives.
type Escrow interface {
	Hold(ctx context.Context, tx pgx.Tx, jobID, payerID uuid.UUID, amountCents int64) (*models.EscrowHold, error)
	Release(ctx context.Context, tx pgx.Tx, jobID, payeeID uuid.UUID, feePercent int) (*ledger.Settlement, error)
	Refund(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// Reputation folds outcomes into agent records.
type Reputation interface {
	RecordSuccess(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, scores reputation.Scores) (*models.ReputationRecord, error)
	RecordFailure(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (*models.ReputationRecord, error)
}

// Presence answers liveness questions about agents.
type Presence interface {
	Online(agentID uuid.UUID) bool
	LastSeen(agentID uuid.UUID) (time.Time, bool)
}

// Notifier is pushed job state changes for display surfaces. Delivery
// is best effort; the lifecycle never depends on it succeeding.
type Notifier interface {
	JobEvent(ctx context.Context, event string, jobID uuid.UUID)
}

// Service wires the lifecycle together.
type Service struct {
	jobs       JobStore
	apps       ApplicationStore
	agents     AgentStore
	escrow     Escrow
	reputation Reputation
	presence   Presence
	notify     Notifier
	feePercent int
	grace      time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewService(jobs JobStore, apps ApplicationStore, agents AgentStore, escrow Escrow, rep Reputation, presence Presence, feePercent int, abandonGrace time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		jobs: jobs, apps: apps, agents: agents,
		escrow: escrow, reputation: rep, presence: presence,
		feePercent: feePercent, grace: abandonGrace,
		log: log, now: time.Now,
	}
}

// SetNotifier attaches an optional listener for job state changes.
func (s *Service) SetNotifier(n Notifier) { s.notify = n }

func (s *Service) emit(ctx context.Context, event string, jobID uuid.UUID) {
	if s.notify != nil {
		s.notify.JobEvent(ctx, event, jobID)
	}
}

// CreateJobInput is everything a poster supplies for a new job.
type CreateJobInput struct {
	Title             string
	Description       string
	Category          string
	RequiredTools     []string
	MinContext        int
	MinThroughput     float64
	MinAccuracy       float64
	MinTrust          models.TrustLevel
	BudgetCents       int64
	Deadline          time.Time
	DeliverableSchema json.RawMessage
}

// Create validates the posting, inserts it, and escrows the full budget
// from the poster's balance in the same transaction. A posting whose
// escrow fails is never visible.
func (s *Service) Create(ctx context.Context, posterID uuid.UUID, in CreateJobInput) (*models.JobPosting, error) {
	if in.Title == "" || in.Category == "" {
		return nil, fmt.Errorf("%w: title and category are required", ErrValidation)
	}
	if in.BudgetCents <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	if !in.Deadline.After(s.now()) {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}
	if len(in.DeliverableSchema) > 0 {
		if _, err := compileSchema(in.DeliverableSchema); err != nil {
			return nil, fmt.Errorf("%w: invalid deliverable schema: %v", ErrValidation, err)
		}
	}

	job := &models.JobPosting{
		ID:                uuid.New(),
		PosterID:          posterID,
		Title:             in.Title,
		Description:       in.Description,
		Category:          in.Category,
		RequiredTools:     in.RequiredTools,
		MinContext:        in.MinContext,
		MinThroughput:     in.MinThroughput,
		MinAccuracy:       in.MinAccuracy,
		MinTrust:          in.MinTrust,
		BudgetCents:       in.BudgetCents,
		Deadline:          in.Deadline,
		Status:            models.JobStatusOpen,
		DeliverableSchema: in.DeliverableSchema,
		CreatedAt:         s.now(),
	}

	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.jobs.Create(ctx, tx, job); err != nil {
		return nil, err
	}
	if _, err := s.escrow.Hold(ctx, tx, job.ID, posterID, in.BudgetCents); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.JobsPosted.Inc()
	s.log.Info("job posted", "job_id", job.ID, "poster_id", posterID, "budget_cents", in.BudgetCents)
	return job, nil
}

// Apply records or replaces the agent's application. The capability
// snapshot is frozen here; later profile edits do not touch it.
func (s *Service) Apply(ctx context.Context, agentID, jobID uuid.UUID, bidCents int64, pitch string) (*models.Application, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusOpen || !job.Deadline.After(s.now()) {
		return nil, ErrInvalidState
	}
	if bidCents <= 0 || bidCents > job.BudgetCents {
		return nil, ErrInvalidBid
	}
	if !s.presence.Online(agentID) {
		return nil, ErrAgentOffline
	}
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	snap := agent.Snapshot()
	res := matching.Score(snap, job, bidCents)
	if res.Disqualified {
		return nil, fmt.Errorf("%w: %s", ErrNotQualified, res.Reason)
	}

	app := &models.Application{
		ID:         uuid.New(),
		JobID:      jobID,
		AgentID:    agentID,
		BidCents:   bidCents,
		Pitch:      pitch,
		Snapshot:   snap,
		MatchScore: res.Score,
		Status:     models.ApplicationPending,
		CreatedAt:  s.now(),
	}
	if err := s.apps.Upsert(ctx, app); err != nil {
		return nil, err
	}
	s.log.Info("application received", "job_id", jobID, "agent_id", agentID, "bid_cents", bidCents, "score", res.Score)
	return app, nil
}

// Withdraw takes the agent's pending application out of contention.
// Accepted and rejected applications are settled history and stay put.
func (s *Service) Withdraw(ctx context.Context, agentID, jobID uuid.UUID) error {
	app, err := s.apps.GetByJobAndAgent(ctx, jobID, agentID)
	if err != nil {
		return err
	}
	if app.Status != models.ApplicationPending {
		return ErrInvalidState
	}
	if err := s.apps.Withdraw(ctx, jobID, agentID); err != nil {
		return err
	}
	s.log.Info("application withdrawn", "job_id", jobID, "agent_id", agentID)
	return nil
}

// Hire accepts the given agent's pending application. The open->hired
// transition is a conditional update, so under concurrent hires exactly
// one wins and the rest get ErrAlreadyHired; the losers' applications
// are rejected in the winner's transaction.
func (s *Service) Hire(ctx context.Context, posterID, jobID, agentID uuid.UUID) (*models.JobPosting, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrNotOwner
	}
	app, err := s.apps.GetByJobAndAgent(ctx, jobID, agentID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationPending {
		return nil, ErrInvalidState
	}
	if !s.presence.Online(agentID) {
		return nil, ErrAgentOffline
	}
	return s.hire(ctx, jobID, agentID, app.BidCents)
}

// AutoHire ranks the job's pending applications and hires the best
// qualified agent that is still online.
func (s *Service) AutoHire(ctx context.Context, posterID, jobID uuid.UUID) (*models.JobPosting, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrNotOwner
	}
	ranked, err := s.Ranking(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, cand := range ranked {
		if !s.presence.Online(cand.AgentID) {
			continue
		}
		return s.hire(ctx, jobID, cand.AgentID, cand.BidCents)
	}
	return nil, ErrNoApplicants
}

func (s *Service) hire(ctx context.Context, jobID, agentID uuid.UUID, bidCents int64) (*models.JobPosting, error) {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.jobs.ClaimOpen(ctx, tx, jobID, agentID, bidCents); err != nil {
		return nil, err
	}
	if err := s.apps.AcceptAndRejectSiblings(ctx, tx, jobID, agentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.JobsHired.Inc()
	s.emit(ctx, "hired", jobID)
	s.log.Info("agent hired", "job_id", jobID, "agent_id", agentID, "agreed_bid_cents", bidCents)
	return s.jobs.GetByID(ctx, jobID)
}

// SubmitDeliverable records the hired agent's work. When the posting
// carries a deliverable schema, the payload must satisfy it.
func (s *Service) SubmitDeliverable(ctx context.Context, agentID, jobID uuid.UUID, deliverable json.RawMessage) (*models.JobPosting, error) {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusHired {
		return nil, ErrInvalidState
	}
	if job.HiredAgentID == nil || *job.HiredAgentID != agentID {
		return nil, ErrNotHiredAgent
	}
	if len(job.DeliverableSchema) > 0 {
		if err := validateAgainstSchema(job.DeliverableSchema, deliverable); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeliverableInvalid, err)
		}
	}
	if err := s.jobs.SetSubmitted(ctx, tx, jobID, deliverable); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.emit(ctx, "submitted", jobID)
	s.log.Info("deliverable submitted", "job_id", jobID, "agent_id", agentID)
	return s.jobs.GetByID(ctx, jobID)
}

// Approve settles a submitted job: escrow released to the agent minus
// the platform fee, the success folded into the agent's reputation, and
// the job marked paid. All of it commits atomically.
func (s *Service) Approve(ctx context.Context, posterID, jobID uuid.UUID, scores reputation.Scores) (*ledger.Settlement, error) {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrNotOwner
	}
	if job.Status != models.JobStatusSubmitted || job.HiredAgentID == nil {
		return nil, ErrInvalidState
	}
	agentID := *job.HiredAgentID

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	settlement, err := s.escrow.Release(ctx, tx, jobID, agent.AccountID, s.feePercent)
	if err != nil {
		return nil, err
	}
	rec, err := s.reputation.RecordSuccess(ctx, tx, agentID, scores)
	if err != nil {
		return nil, err
	}
	if err := s.agents.ApplyOutcome(ctx, tx, agentID, rec); err != nil {
		return nil, err
	}
	if err := s.jobs.SetStatus(ctx, tx, jobID, models.JobStatusPaid); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.JobsSettled.Inc()
	s.emit(ctx, "paid", jobID)
	s.log.Info("job approved and settled", "job_id", jobID, "agent_id", agentID,
		"agent_share_cents", settlement.AgentShareCents, "platform_fee_cents", settlement.PlatformFeeCents)
	return settlement, nil
}

// Reject refuses a submitted deliverable: escrow back to the poster, a
// failure outcome on the agent, job closed as rejected.
func (s *Service) Reject(ctx context.Context, posterID, jobID uuid.UUID) error {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.PosterID != posterID {
		return ErrNotOwner
	}
	if job.Status != models.JobStatusSubmitted || job.HiredAgentID == nil {
		return ErrInvalidState
	}
	agentID := *job.HiredAgentID

	if err := s.escrow.Refund(ctx, tx, jobID); err != nil {
		return err
	}
	rec, err := s.reputation.RecordFailure(ctx, tx, agentID)
	if err != nil {
		return err
	}
	if err := s.agents.ApplyOutcome(ctx, tx, agentID, rec); err != nil {
		return err
	}
	if err := s.jobs.SetStatus(ctx, tx, jobID, models.JobStatusRejected); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	metrics.JobsRefunded.Inc()
	s.emit(ctx, "rejected", jobID)
	s.log.Info("deliverable rejected", "job_id", jobID, "agent_id", agentID)
	return nil
}

// Cancel withdraws an open job and refunds its escrow. Pending
// applications are rejected.
func (s *Service) Cancel(ctx context.Context, posterID, jobID uuid.UUID) error {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.PosterID != posterID {
		return ErrNotOwner
	}
	if job.Status != models.JobStatusOpen {
		return ErrInvalidState
	}
	if err := s.escrow.Refund(ctx, tx, jobID); err != nil {
		return err
	}
	if err := s.apps.RejectAllPending(ctx, tx, jobID); err != nil {
		return err
	}
	if err := s.jobs.SetStatus(ctx, tx, jobID, models.JobStatusCancelled); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	metrics.JobsRefunded.Inc()
	s.emit(ctx, "cancelled", jobID)
	s.log.Info("job cancelled", "job_id", jobID)
	return nil
}

// ExpireDueJobs closes open and hired jobs whose deadline has passed
// without a submission, refunding their escrow. Each job is its own
// transaction with a re-check under lock, so running the sweep twice is
// harmless.
func (s *Service) ExpireDueJobs(ctx context.Context) (int, error) {
	due, err := s.jobs.DuePastDeadline(ctx, s.now())
	if err != nil {
		return 0, err
	}
	var expired int
	for _, jobID := range due {
		if err := s.expireOne(ctx, jobID); err != nil {
			s.log.Error("expire failed", "job_id", jobID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		metrics.JobsExpired.Add(float64(expired))
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, jobID uuid.UUID) error {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	// Another sweep, a hire, or a submission may have raced us here.
	expirable := job.Status == models.JobStatusOpen || job.Status == models.JobStatusHired
	if !expirable || job.Deadline.After(s.now()) {
		return nil
	}
	if err := s.escrow.Refund(ctx, tx, jobID); err != nil {
		return err
	}
	if err := s.apps.RejectAllPending(ctx, tx, jobID); err != nil {
		return err
	}
	if err := s.jobs.SetStatus(ctx, tx, jobID, models.JobStatusExpired); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.emit(ctx, "expired", jobID)
	return nil
}

// ReapAbandoned closes hired jobs whose agent has been silent longer
// than the grace period without submitting: escrow refunded, failure
// outcome on the hired agent.
func (s *Service) ReapAbandoned(ctx context.Context) (int, error) {
	hired, err := s.jobs.ListHired(ctx)
	if err != nil {
		return 0, err
	}
	var reaped int
	for _, jobID := range hired {
		abandoned, err := s.reapOne(ctx, jobID)
		if err != nil {
			s.log.Error("abandon sweep failed", "job_id", jobID, "error", err)
			continue
		}
		if abandoned {
			reaped++
		}
	}
	if reaped > 0 {
		metrics.JobsAbandoned.Add(float64(reaped))
	}
	return reaped, nil
}

func (s *Service) reapOne(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusHired || job.HiredAgentID == nil {
		return false, nil
	}
	agentID := *job.HiredAgentID

	// The agent counts as silent since its last heartbeat, or since the
	// hire if it never heartbeated after being hired.
	silentSince, ok := s.presence.LastSeen(agentID)
	if job.HiredAt != nil && (!ok || job.HiredAt.After(silentSince)) {
		silentSince = *job.HiredAt
		ok = true
	}
	if !ok || s.now().Sub(silentSince) <= s.grace {
		return false, nil
	}

	if err := s.escrow.Refund(ctx, tx, jobID); err != nil {
		return false, err
	}
	rec, err := s.reputation.RecordFailure(ctx, tx, agentID)
	if err != nil {
		return false, err
	}
	if err := s.agents.ApplyOutcome(ctx, tx, agentID, rec); err != nil {
		return false, err
	}
	if err := s.jobs.SetStatus(ctx, tx, jobID, models.JobStatusAbandoned); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	s.emit(ctx, "abandoned", jobID)
	return true, nil
}

// Ranking returns the job's pending applications best-first, using the
// scores frozen at application time.
func (s *Service) Ranking(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	apps, err := s.apps.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var pending []*models.Application
	byAgent := make(map[uuid.UUID]*models.Application)
	for _, app := range apps {
		if app.Status == models.ApplicationPending {
			pending = append(pending, app)
			byAgent[app.AgentID] = app
		}
	}
	cands := make([]matching.Candidate, 0, len(pending))
	for _, app := range pending {
		cands = append(cands, matching.Candidate{
			AgentID: app.AgentID, Score: app.MatchScore,
			BidCents: app.BidCents, AppliedAt: app.CreatedAt,
		})
	}
	matching.Rank(cands)
	out := make([]*models.Application, 0, len(cands))
	for _, c := range cands {
		out = append(out, byAgent[c.AgentID])
	}
	return out, nil
}

// GetJob returns one job posting.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobPosting, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListOpen returns open postings, optionally filtered by category.
func (s *Service) ListOpen(ctx context.Context, category string, limit int) ([]*models.JobPosting, error) {
	return s.jobs.ListOpen(ctx, category, limit)
}

// ListByPoster returns the poster's jobs newest-first.
func (s *Service) ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.JobPosting, error) {
	return s.jobs.ListByPoster(ctx, posterID)
}

// Applications returns every application on the job, any status.
func (s *Service) Applications(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return s.apps.ListByJob(ctx, jobID)
}

// ApplicationsByAgent returns the agent's own applications newest-first.
func (s *Service) ApplicationsByAgent(ctx context.Context, agentID uuid.UUID) ([]*models.Application, error) {
	return s.apps.ListByAgent(ctx, agentID)
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("deliverable.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile("deliverable.json")
}

func validateAgainstSchema(schemaRaw, payload json.RawMessage) error {
	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
