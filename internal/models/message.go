package models

import (
	"time"

	"github.com/google/uuid"
)

// Message types. Unknown types are coerced to text on the way in.
const (
	MessageText        = "text"
	MessageInstruction = "instruction"
	MessageQuestion    = "question"
)

// Message senders.
const (
	SenderPoster = "poster"
	SenderAgent  = "agent"
)

// Message is one entry in a job's thread between the poster and the
// hired agent. Read flags are tracked per side; fetching a thread marks
// it read for the reader.
type Message struct {
	ID           uuid.UUID `json:"id"`
	JobID        uuid.UUID `json:"job_id"`
	Sender       string    `json:"sender"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	Attachments  []string  `json:"attachments,omitempty"`
	ReadByPoster bool      `json:"read_by_poster"`
	ReadByAgent  bool      `json:"read_by_agent"`
	CreatedAt    time.Time `json:"created_at"`
}
