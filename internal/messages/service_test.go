package messages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentjobs/backend/internal/jobs"
	"github.com/agentjobs/backend/internal/models"
)

// --- Store mock ---

type mockStore struct {
	mu   sync.Mutex
	msgs []*models.Message
}

func (m *mockStore) Insert(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	return nil
}

func (m *mockStore) ListByJob(_ context.Context, jobID uuid.UUID, since time.Time) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.msgs {
		if msg.JobID == jobID && msg.CreatedAt.After(since) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) MarkRead(_ context.Context, jobID uuid.UUID, reader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.JobID != jobID {
			continue
		}
		if reader == models.SenderPoster {
			msg.ReadByPoster = true
		} else {
			msg.ReadByAgent = true
		}
	}
	return nil
}

func (m *mockStore) ListUnreadForAgent(_ context.Context, jobID uuid.UUID) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.msgs {
		if msg.JobID == jobID && msg.Sender == models.SenderPoster && !msg.ReadByAgent {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- JobSource mock ---

type mockJobSource struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.JobPosting
}

func (m *mockJobSource) GetByID(_ context.Context, id uuid.UUID) (*models.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobSource) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = status
}

// ---------------------------------------------------------------------------

type thread struct {
	svc     *Service
	src     *mockJobSource
	job     *models.JobPosting
	poster  uuid.UUID
	agentID uuid.UUID
}

func newThread(status string) *thread {
	posterID := uuid.New()
	agentID := uuid.New()
	job := &models.JobPosting{ID: uuid.New(), PosterID: posterID, Status: status}
	if status != models.JobStatusOpen {
		job.HiredAgentID = &agentID
	}
	src := &mockJobSource{jobs: map[uuid.UUID]*models.JobPosting{job.ID: job}}
	return &thread{
		svc:     NewService(&mockStore{}, src, nil),
		src:     src,
		job:     job,
		poster:  posterID,
		agentID: agentID,
	}
}

func TestSendRequiresActiveEngagement(t *testing.T) {
	th := newThread(models.JobStatusOpen)
	ctx := context.Background()

	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{Content: "hello"}); !errors.Is(err, ErrJobNotActive) {
		t.Errorf("send on open job: %v", err)
	}

	th = newThread(models.JobStatusPaid)
	if _, err := th.svc.AgentSend(ctx, th.agentID, th.job.ID, SendInput{Content: "done?"}); !errors.Is(err, ErrJobNotActive) {
		t.Errorf("send on paid job: %v", err)
	}

	// Hired and submitted are both live.
	th = newThread(models.JobStatusHired)
	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{Content: "hello"}); err != nil {
		t.Errorf("send on hired job: %v", err)
	}
	th.src.setStatus(th.job.ID, models.JobStatusSubmitted)
	if _, err := th.svc.AgentSend(ctx, th.agentID, th.job.ID, SendInput{Content: "delivered"}); err != nil {
		t.Errorf("send on submitted job: %v", err)
	}
}

func TestSendAuthorization(t *testing.T) {
	th := newThread(models.JobStatusHired)
	ctx := context.Background()

	if _, err := th.svc.PosterSend(ctx, uuid.New(), th.job.ID, SendInput{Content: "hi"}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign poster: %v", err)
	}
	if _, err := th.svc.AgentSend(ctx, uuid.New(), th.job.ID, SendInput{Content: "hi"}); !errors.Is(err, ErrNotHiredAgent) {
		t.Errorf("foreign agent: %v", err)
	}
	if _, err := th.svc.PosterSend(ctx, th.poster, uuid.New(), SendInput{Content: "hi"}); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("unknown job: %v", err)
	}
	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content: %v", err)
	}
}

func TestUnknownTypeStoredAsText(t *testing.T) {
	th := newThread(models.JobStatusHired)
	msg, err := th.svc.PosterSend(context.Background(), th.poster, th.job.ID, SendInput{Type: "memo", Content: "ship it"})
	if err != nil {
		t.Fatalf("PosterSend: %v", err)
	}
	if msg.Type != models.MessageText {
		t.Errorf("type: %s", msg.Type)
	}
}

func TestUnreadAndReadFlow(t *testing.T) {
	th := newThread(models.JobStatusHired)
	ctx := context.Background()

	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{Type: models.MessageInstruction, Content: "use the staging bucket"}); err != nil {
		t.Fatalf("PosterSend: %v", err)
	}
	if _, err := th.svc.AgentSend(ctx, th.agentID, th.job.ID, SendInput{Type: models.MessageQuestion, Content: "which region?"}); err != nil {
		t.Fatalf("AgentSend: %v", err)
	}

	// Only the poster's message counts as unread for the agent, and
	// polling unread does not consume it.
	unread, err := th.svc.AgentUnread(ctx, th.agentID, th.job.ID)
	if err != nil {
		t.Fatalf("AgentUnread: %v", err)
	}
	if len(unread) != 1 || unread[0].Type != models.MessageInstruction {
		t.Fatalf("unread: %+v", unread)
	}
	if unread, _ = th.svc.AgentUnread(ctx, th.agentID, th.job.ID); len(unread) != 1 {
		t.Errorf("unread consumed by polling")
	}

	// Fetching the thread marks the agent side read.
	list, err := th.svc.AgentThread(ctx, th.agentID, th.job.ID, time.Time{})
	if err != nil {
		t.Fatalf("AgentThread: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("thread: %d messages", len(list))
	}
	if unread, _ = th.svc.AgentUnread(ctx, th.agentID, th.job.ID); len(unread) != 0 {
		t.Errorf("unread after reading the thread: %d", len(unread))
	}
}

func TestThreadSinceFilter(t *testing.T) {
	th := newThread(models.JobStatusHired)
	ctx := context.Background()

	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	th.svc.now = func() time.Time { return t0 }
	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{Content: "first"}); err != nil {
		t.Fatalf("PosterSend: %v", err)
	}
	th.svc.now = func() time.Time { return t0.Add(time.Minute) }
	if _, err := th.svc.PosterSend(ctx, th.poster, th.job.ID, SendInput{Content: "second"}); err != nil {
		t.Fatalf("PosterSend: %v", err)
	}

	list, err := th.svc.PosterThread(ctx, th.poster, th.job.ID, t0.Add(30*time.Second))
	if err != nil {
		t.Fatalf("PosterThread: %v", err)
	}
	if len(list) != 1 || list[0].Content != "second" {
		t.Errorf("since window: %+v", list)
	}
}

func TestThreadReadableAfterSettlement(t *testing.T) {
	th := newThread(models.JobStatusHired)
	ctx := context.Background()
	if _, err := th.svc.AgentSend(ctx, th.agentID, th.job.ID, SendInput{Content: "on it"}); err != nil {
		t.Fatalf("AgentSend: %v", err)
	}

	th.src.setStatus(th.job.ID, models.JobStatusPaid)
	list, err := th.svc.PosterThread(ctx, th.poster, th.job.ID, time.Time{})
	if err != nil {
		t.Fatalf("PosterThread after settlement: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("history lost after settlement: %d", len(list))
	}
}
