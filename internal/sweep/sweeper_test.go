package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/riverqueue/river"
)

type fakeLifecycle struct {
	expired, reaped int
	expireErr       error
}

func (f *fakeLifecycle) ExpireDueJobs(context.Context) (int, error) {
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	f.expired++
	return 1, nil
}

func (f *fakeLifecycle) ReapAbandoned(context.Context) (int, error) {
	f.reaped++
	return 0, nil
}

type fakePresence struct {
	calls int
}

func (f *fakePresence) MarkStaleOffline(context.Context) (int, error) {
	f.calls++
	return 0, nil
}

func TestWorkRunsAllPhases(t *testing.T) {
	lc := &fakeLifecycle{}
	pr := &fakePresence{}
	w := NewWorker(lc, pr, nil)

	if err := w.Work(context.Background(), &river.Job[SweepArgs]{}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if pr.calls != 1 || lc.expired != 1 || lc.reaped != 1 {
		t.Errorf("phases: presence=%d expire=%d reap=%d", pr.calls, lc.expired, lc.reaped)
	}
}

func TestWorkReturnsErrorForRetry(t *testing.T) {
	lc := &fakeLifecycle{expireErr: errors.New("db down")}
	w := NewWorker(lc, &fakePresence{}, nil)

	if err := w.Work(context.Background(), &river.Job[SweepArgs]{}); err == nil {
		t.Fatal("expected error to surface for queue retry")
	}
	if lc.reaped != 0 {
		t.Errorf("reap ran after expire failure")
	}
}
