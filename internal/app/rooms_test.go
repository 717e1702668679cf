package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRooms(t *testing.T) (*RoomRegistry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRoomRegistry(5*time.Minute, metrics.New())
	r.SetClock(clock.Now)
	return r, clock
}

func TestRoomHostRejoinIsIdempotent(t *testing.T) {
	rooms, _ := newTestRooms(t)
	room, err := rooms.Create("alice", "standup")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := rooms.Join(room.ID, "alice")
		if err != nil {
			t.Fatalf("join #%d: %v", i, err)
		}
		if res.Role != domain.RoleHost {
			t.Fatalf("role=%q, want host", res.Role)
		}
		if res.Room.ParticipantUserName != "" {
			t.Fatalf("participant=%q, want empty", res.Room.ParticipantUserName)
		}
	}
}

func TestRoomCapacity(t *testing.T) {
	rooms, _ := newTestRooms(t)
	room, _ := rooms.Create("alice", "")

	res, err := rooms.Join(room.ID, "bob")
	if err != nil || res.Role != domain.RoleParticipant || !res.NewParticipant {
		t.Fatalf("bob join=%+v err=%v, want new participant", res, err)
	}
	res, err = rooms.Join(room.ID, " bob ")
	if err != nil || res.Role != domain.RoleParticipant || res.NewParticipant {
		t.Fatalf("bob rejoin=%+v err=%v, want existing participant", res, err)
	}
	if _, err := rooms.Join(room.ID, "carol"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("carol err=%v, want %v", err, ErrRoomFull)
	}
	got, _ := rooms.Get(room.ID)
	if got.HostUserName != "alice" || got.ParticipantUserName != "bob" {
		t.Fatalf("room=%+v, want host alice participant bob", got)
	}
	if got.Name != "alice" {
		t.Fatalf("name=%q, want host name as default", got.Name)
	}
}

func TestRoomJoinErrors(t *testing.T) {
	rooms, clock := newTestRooms(t)
	if _, err := rooms.Join("missing", "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	room, _ := rooms.Create("alice", "")
	if _, err := rooms.Join(room.ID, "   "); !errors.Is(err, domain.ErrUsernameEmpty) {
		t.Fatalf("err=%v, want %v", err, domain.ErrUsernameEmpty)
	}

	clock.Advance(5 * time.Minute)
	if _, err := rooms.Join(room.ID, "bob"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("err=%v, want %v", err, ErrRoomExpired)
	}
}

func TestRoomEnd(t *testing.T) {
	rooms, _ := newTestRooms(t)
	room, _ := rooms.Create("alice", "")
	rooms.Join(room.ID, "bob")

	if _, err := rooms.End(room.ID, "bob"); !errors.Is(err, ErrNotRoomHost) {
		t.Fatalf("err=%v, want %v", err, ErrNotRoomHost)
	}
	if !rooms.Record(room.ID, domain.TranscriptLine{Speaker: "bob", Text: "hi", Final: true}) {
		t.Fatalf("record on open room failed")
	}

	ended, err := rooms.End(room.ID, "alice")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !ended.Ended || ended.ParticipantUserName != "bob" || len(ended.Transcripts) != 1 {
		t.Fatalf("ended=%+v", ended)
	}
	if _, err := rooms.Join(room.ID, "bob"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("join after end err=%v, want %v", err, ErrRoomExpired)
	}
	if _, err := rooms.End(room.ID, "alice"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("second end err=%v, want %v", err, ErrRoomExpired)
	}
	if rooms.Record(room.ID, domain.TranscriptLine{Speaker: "bob", Text: "late"}) {
		t.Fatalf("record on ended room succeeded")
	}
}

func TestRoomSweep(t *testing.T) {
	rooms, clock := newTestRooms(t)
	ended, _ := rooms.Create("alice", "")
	rooms.End(ended.ID, "alice")
	clock.Advance(time.Minute)
	live, _ := rooms.Create("carol", "")
	clock.Advance(4 * time.Minute)
	rooms.Create("dave", "")

	if n := rooms.Sweep(clock.Now()); n != 1 {
		t.Fatalf("swept=%d, want 1", n)
	}
	clock.Advance(time.Minute)
	if n := rooms.Sweep(clock.Now()); n != 1 {
		t.Fatalf("swept=%d, want 1", n)
	}
	if _, err := rooms.Join(live.ID, "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	if rooms.Count() != 1 {
		t.Fatalf("count=%d, want 1", rooms.Count())
	}
}

func TestRoomConcurrentGuests(t *testing.T) {
	rooms, _ := newTestRooms(t)
	room, _ := rooms.Create("alice", "")

	names := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	joined := 0
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := rooms.Join(room.ID, name); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	if joined != 1 {
		t.Fatalf("joined=%d, want 1", joined)
	}
}
