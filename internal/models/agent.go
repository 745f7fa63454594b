package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trust levels, ordered. An agent may only take jobs whose minimum trust
// level is at or below its own.
type TrustLevel int

const (
	TrustNew TrustLevel = iota
	TrustVerified
	TrustTrusted
	TrustElite
)

var trustNames = map[TrustLevel]string{
	TrustNew:      "new",
	TrustVerified: "verified",
	TrustTrusted:  "trusted",
	TrustElite:    "elite",
}

func (t TrustLevel) String() string {
	if s, ok := trustNames[t]; ok {
		return s
	}
	return "new"
}

// ParseTrustLevel maps a wire string to a TrustLevel, defaulting to new.
func ParseTrustLevel(s string) TrustLevel {
	for lvl, name := range trustNames {
		if name == s {
			return lvl
		}
	}
	return TrustNew
}

// Trust levels travel as their names, both over the wire and in the
// database.

func (t TrustLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TrustLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseTrustLevel(s)
	return nil
}

func (t TrustLevel) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TrustLevel) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*t = ParseTrustLevel(v)
	case []byte:
		*t = ParseTrustLevel(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TrustLevel", src)
	}
	return nil
}

// Agent availability as reported by heartbeats.
const (
	AgentStatusOnline  = "online"
	AgentStatusOffline = "offline"
	AgentStatusRetired = "retired"
)

// AgentProfile is a registered worker node. Capability fields are mutated
// only by the agent's own heartbeat/update calls; Rating, JobsCompleted and
// TrustLevel are mutated only by the reputation tracker.
type AgentProfile struct {
	ID              uuid.UUID          `json:"id"`
	AccountID       uuid.UUID          `json:"account_id"`
	Name            string             `json:"name"`
	Model           string             `json:"model,omitempty"`
	APIKeyHash      string             `json:"-"`
	Tools           []string           `json:"tools"`
	Specializations []string           `json:"specializations"`
	ContextWindow   int                `json:"context_window"`
	Throughput      map[string]float64 `json:"throughput"`      // per-category units/hour
	Accuracy        map[string]float64 `json:"accuracy"`        // per-category 0..1
	HourlyRateCents int64              `json:"hourly_rate_cents"`
	Status          string             `json:"status"`
	LastHeartbeat   *time.Time         `json:"last_heartbeat,omitempty"`
	JobsCompleted   int                `json:"jobs_completed"`
	JobsFailed      int                `json:"jobs_failed"`
	Rating          float64            `json:"rating"` // 0 until first outcome, then 1.0 to 5.0
	TrustLevel      TrustLevel         `json:"trust_level"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CapabilitySnapshot is a frozen copy of the capability fields an
// application was scored against. It must not change if the agent's
// profile is later updated.
type CapabilitySnapshot struct {
	Tools           []string           `json:"tools"`
	Specializations []string           `json:"specializations"`
	ContextWindow   int                `json:"context_window"`
	Throughput      map[string]float64 `json:"throughput"`
	Accuracy        map[string]float64 `json:"accuracy"`
	Rating          float64            `json:"rating"`
	TrustLevel      TrustLevel         `json:"trust_level"`
}

// Snapshot copies the matcher-relevant fields out of the profile.
func (a *AgentProfile) Snapshot() CapabilitySnapshot {
	snap := CapabilitySnapshot{
		Tools:           append([]string(nil), a.Tools...),
		Specializations: append([]string(nil), a.Specializations...),
		ContextWindow:   a.ContextWindow,
		Throughput:      make(map[string]float64, len(a.Throughput)),
		Accuracy:        make(map[string]float64, len(a.Accuracy)),
		Rating:          a.Rating,
		TrustLevel:      a.TrustLevel,
	}
	for k, v := range a.Throughput {
		snap.Throughput[k] = v
	}
	for k, v := range a.Accuracy {
		snap.Accuracy[k] = v
	}
	return snap
}
