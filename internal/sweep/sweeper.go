// Package sweep runs the periodic lifecycle pass: deadline expiry,
// abandonment reaping, and flipping stale agents offline. The pass is
// idempotent, so at-least-once execution by the queue is safe.
package sweep

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

type SweepArgs struct{}

func (SweepArgs) Kind() string { return "lifecycle_sweep" }

// Lifecycle is the slice of the job service the sweep drives.
type Lifecycle interface {
	ExpireDueJobs(ctx context.Context) (int, error)
	ReapAbandoned(ctx context.Context) (int, error)
}

// Presence flips stale agents offline.
type Presence interface {
	MarkStaleOffline(ctx context.Context) (int, error)
}

type Worker struct {
	river.WorkerDefaults[SweepArgs]
	lifecycle Lifecycle
	presence  Presence
	log       *slog.Logger
}

func NewWorker(lifecycle Lifecycle, presence Presence, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{lifecycle: lifecycle, presence: presence, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	offline, err := w.presence.MarkStaleOffline(ctx)
	if err != nil {
		return err
	}
	expired, err := w.lifecycle.ExpireDueJobs(ctx)
	if err != nil {
		return err
	}
	reaped, err := w.lifecycle.ReapAbandoned(ctx)
	if err != nil {
		return err
	}
	if offline > 0 || expired > 0 || reaped > 0 {
		w.log.Info("lifecycle sweep",
			"agents_offline", offline, "jobs_expired", expired, "jobs_abandoned", reaped)
	}
	return nil
}
