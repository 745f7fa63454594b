// Package liveness tracks agent heartbeats in memory. The database keeps
// the durable last_heartbeat column; this tracker answers the hot-path
// "is this agent online right now" question without a round trip.
package liveness

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker records the last heartbeat per agent. An agent is online when
// its last heartbeat is within the timeout.
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[uuid.UUID]time.Time
	timeout  time.Duration
	now      func() time.Time
}

// NewTracker creates a Tracker with the given online timeout.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		lastSeen: make(map[uuid.UUID]time.Time),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Heartbeat records a heartbeat for the agent and returns the timestamp
// recorded.
func (t *Tracker) Heartbeat(agentID uuid.UUID) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.lastSeen[agentID] = now
	return now
}

// Seed loads a previously persisted heartbeat, typically on startup so
// agents that were online before a restart do not all flap offline.
func (t *Tracker) Seed(agentID uuid.UUID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.lastSeen[agentID]; !ok || at.After(existing) {
		t.lastSeen[agentID] = at
	}
}

// Online reports whether the agent heartbeated within the timeout.
func (t *Tracker) Online(agentID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last, ok := t.lastSeen[agentID]
	return ok && t.now().Sub(last) <= t.timeout
}

// LastSeen returns the agent's last heartbeat, if any.
func (t *Tracker) LastSeen(agentID uuid.UUID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last, ok := t.lastSeen[agentID]
	return last, ok
}

// Forget drops the agent from the tracker, e.g. on retirement.
func (t *Tracker) Forget(agentID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, agentID)
}

// Stale returns agents whose last heartbeat is older than the timeout.
// The sweep uses this to flip their durable status to offline.
func (t *Tracker) Stale() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := t.now().Add(-t.timeout)
	var stale []uuid.UUID
	for id, last := range t.lastSeen {
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// OnlineCount returns how many tracked agents are currently online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := t.now().Add(-t.timeout)
	var n int
	for _, last := range t.lastSeen {
		if !last.Before(cutoff) {
			n++
		}
	}
	return n
}
