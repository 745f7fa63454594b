// Package notify delivers job lifecycle events to display surfaces.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogNotifier writes every event to the structured log. It stands in
// for richer transports (websockets, webhooks) that consume the same
// event stream.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) JobEvent(ctx context.Context, event string, jobID uuid.UUID) {
	n.log.InfoContext(ctx, "job event", "event", event, "job_id", jobID)
}
