package liveness

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(timeout time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(timeout)
	tr.now = clock.now
	return tr, clock
}

func TestHeartbeatMarksOnline(t *testing.T) {
	tr, _ := newTestTracker(90 * time.Second)
	id := uuid.New()

	if tr.Online(id) {
		t.Fatal("agent online before any heartbeat")
	}
	tr.Heartbeat(id)
	if !tr.Online(id) {
		t.Fatal("agent offline immediately after heartbeat")
	}
}

func TestOnlineExpiresAfterTimeout(t *testing.T) {
	tr, clock := newTestTracker(90 * time.Second)
	id := uuid.New()

	tr.Heartbeat(id)
	clock.advance(89 * time.Second)
	if !tr.Online(id) {
		t.Fatal("agent offline within timeout")
	}
	clock.advance(2 * time.Second)
	if tr.Online(id) {
		t.Fatal("agent still online past timeout")
	}

	// A fresh heartbeat brings it back.
	tr.Heartbeat(id)
	if !tr.Online(id) {
		t.Fatal("agent offline after renewed heartbeat")
	}
}

func TestStale(t *testing.T) {
	tr, clock := newTestTracker(90 * time.Second)
	fresh := uuid.New()
	old := uuid.New()

	tr.Heartbeat(old)
	clock.advance(5 * time.Minute)
	tr.Heartbeat(fresh)

	stale := tr.Stale()
	if len(stale) != 1 || stale[0] != old {
		t.Fatalf("stale: got %v, want [%s]", stale, old)
	}
	if got := tr.OnlineCount(); got != 1 {
		t.Errorf("online count: got %d, want 1", got)
	}
}

func TestSeedKeepsNewestTimestamp(t *testing.T) {
	tr, clock := newTestTracker(90 * time.Second)
	id := uuid.New()

	tr.Heartbeat(id)
	recorded, _ := tr.LastSeen(id)

	// Seeding an older timestamp must not rewind the tracker.
	tr.Seed(id, clock.now().Add(-time.Hour))
	if got, _ := tr.LastSeen(id); !got.Equal(recorded) {
		t.Errorf("seed rewound last seen: %v -> %v", recorded, got)
	}

	other := uuid.New()
	tr.Seed(other, clock.now().Add(-10*time.Second))
	if !tr.Online(other) {
		t.Error("seeded recent heartbeat should count as online")
	}
}

func TestForget(t *testing.T) {
	tr, _ := newTestTracker(90 * time.Second)
	id := uuid.New()

	tr.Heartbeat(id)
	tr.Forget(id)
	if tr.Online(id) {
		t.Fatal("agent online after forget")
	}
	if _, ok := tr.LastSeen(id); ok {
		t.Fatal("last seen survives forget")
	}
}
