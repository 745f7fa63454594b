// Package messages is the per-job thread between a poster and the
// hired agent: free-form text, poster instructions, and agent
// questions, with unread tracking on both sides.
package messages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/models"
)

var (
	// ErrNotOwner is returned when a poster touches a thread on a job it
	// did not post.
	ErrNotOwner = errors.New("job belongs to a different poster")

	// ErrNotHiredAgent is returned when an agent touches a thread on a
	// job it was not hired for.
	ErrNotHiredAgent = errors.New("job is hired to a different agent")

	// ErrJobNotActive is returned when the job has no live engagement to
	// talk over: no hired agent, or a settled status.
	ErrJobNotActive = errors.New("job has no active engagement")

	// ErrEmptyContent is returned for messages with no content.
	ErrEmptyContent = errors.New("message content is empty")
)

// Store persists messages.
type Store interface {
	Insert(ctx context.Context, m *models.Message) error
	ListByJob(ctx context.Context, jobID uuid.UUID, since time.Time) ([]*models.Message, error)
	MarkRead(ctx context.Context, jobID uuid.UUID, reader string) error
	ListUnreadForAgent(ctx context.Context, jobID uuid.UUID) ([]*models.Message, error)
}

// JobSource is the job lookup the thread checks run against.
type JobSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.JobPosting, error)
}

// Service guards the thread: only the poster and the hired agent may
// participate, and sending is allowed only between hire and settlement.
type Service struct {
	store Store
	jobs  JobSource
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, jobs JobSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, jobs: jobs, log: log, now: time.Now}
}

// SendInput is one outgoing message.
type SendInput struct {
	Type        string
	Content     string
	Attachments []string
}

// PosterSend posts a message from the job's poster to the hired agent.
func (s *Service) PosterSend(ctx context.Context, posterID, jobID uuid.UUID, in SendInput) (*models.Message, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrNotOwner
	}
	if err := activeEngagement(job); err != nil {
		return nil, err
	}
	return s.send(ctx, job, models.SenderPoster, in)
}

// AgentSend posts a message from the hired agent to the poster.
func (s *Service) AgentSend(ctx context.Context, agentID, jobID uuid.UUID, in SendInput) (*models.Message, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.HiredAgentID == nil || *job.HiredAgentID != agentID {
		return nil, ErrNotHiredAgent
	}
	if err := activeEngagement(job); err != nil {
		return nil, err
	}
	return s.send(ctx, job, models.SenderAgent, in)
}

func (s *Service) send(ctx context.Context, job *models.JobPosting, sender string, in SendInput) (*models.Message, error) {
	if in.Content == "" {
		return nil, ErrEmptyContent
	}
	msg := &models.Message{
		ID:           uuid.New(),
		JobID:        job.ID,
		Sender:       sender,
		Type:         normalizeType(in.Type),
		Content:      in.Content,
		Attachments:  in.Attachments,
		ReadByPoster: sender == models.SenderPoster,
		ReadByAgent:  sender == models.SenderAgent,
		CreatedAt:    s.now(),
	}
	if err := s.store.Insert(ctx, msg); err != nil {
		return nil, err
	}
	s.log.Info("message sent", "job_id", job.ID, "sender", sender, "type", msg.Type)
	return msg, nil
}

// PosterThread returns the job's messages for its poster, oldest first,
// and marks them read on the poster side. A non-zero since narrows the
// window to newer messages.
func (s *Service) PosterThread(ctx context.Context, posterID, jobID uuid.UUID, since time.Time) ([]*models.Message, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PosterID != posterID {
		return nil, ErrNotOwner
	}
	list, err := s.store.ListByJob(ctx, jobID, since)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRead(ctx, jobID, models.SenderPoster); err != nil {
		return nil, err
	}
	return list, nil
}

// AgentThread is the hired agent's view of the thread; it marks the
// messages read on the agent side.
func (s *Service) AgentThread(ctx context.Context, agentID, jobID uuid.UUID, since time.Time) ([]*models.Message, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.HiredAgentID == nil || *job.HiredAgentID != agentID {
		return nil, ErrNotHiredAgent
	}
	list, err := s.store.ListByJob(ctx, jobID, since)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRead(ctx, jobID, models.SenderAgent); err != nil {
		return nil, err
	}
	return list, nil
}

// AgentUnread returns poster messages the agent has not seen, without
// marking them read. Polling agents use it to pick up new instructions
// without touching the read state.
func (s *Service) AgentUnread(ctx context.Context, agentID, jobID uuid.UUID) ([]*models.Message, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.HiredAgentID == nil || *job.HiredAgentID != agentID {
		return nil, ErrNotHiredAgent
	}
	return s.store.ListUnreadForAgent(ctx, jobID)
}

// activeEngagement allows sending only while the work is in flight,
// from hire until the deliverable is settled. Reading stays open so
// both sides keep their history.
func activeEngagement(job *models.JobPosting) error {
	if job.HiredAgentID == nil {
		return ErrJobNotActive
	}
	if job.Status != models.JobStatusHired && job.Status != models.JobStatusSubmitted {
		return ErrJobNotActive
	}
	return nil
}

func normalizeType(t string) string {
	switch t {
	case models.MessageInstruction, models.MessageQuestion:
		return t
	default:
		return models.MessageText
	}
}
