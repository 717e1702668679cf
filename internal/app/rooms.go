package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/idgen"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrRoomExpired  = errors.New("room expired")
	ErrNotRoomHost  = errors.New("only the host can end the room")
)

const DefaultRoomTTL = 5 * time.Minute

type roomEntry struct {
	mu   sync.Mutex
	room domain.Room
}

// usable reports why a room cannot be joined or ended; caller holds e.mu.
func (e *roomEntry) usable(now time.Time) error {
	if e.room.Ended || e.room.Expired(now) {
		return ErrRoomExpired
	}
	return nil
}

// JoinResult is what a successful join hands back to the caller.
type JoinResult struct {
	Role domain.Role
	Room domain.Room
	// NewParticipant is true when this join filled the guest slot.
	NewParticipant bool
}

// RoomRegistry maps room ids to rooms. The map lock only guards
// lookup and insert; every room has its own lock for join and end.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry

	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewRoomRegistry(ttl time.Duration, m *metrics.Metrics) *RoomRegistry {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	return &RoomRegistry{
		rooms:   make(map[domain.RoomID]*roomEntry),
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
	}
}

// SetClock replaces the time source.
func (rr *RoomRegistry) SetClock(now func() time.Time) { rr.now = now }

// Create allocates a room with the host slot filled.
func (rr *RoomRegistry) Create(hostName, displayName string) (domain.Room, error) {
	host, err := domain.NormalizeUsername(hostName)
	if err != nil {
		return domain.Room{}, err
	}
	if len(displayName) > domain.MaxRoomNameLen {
		displayName = displayName[:domain.MaxRoomNameLen]
	}
	now := rr.now()
	e := &roomEntry{room: domain.Room{
		ID:           domain.RoomID(idgen.NewRoomID()),
		Name:         displayName,
		CreatedAt:    now,
		ExpiresAt:    now.Add(rr.ttl),
		HostUserName: host,
	}}
	if e.room.Name == "" {
		e.room.Name = host
	}

	rr.mu.Lock()
	rr.rooms[e.room.ID] = e
	rr.mu.Unlock()
	rr.metrics.RoomOpened()

	log.Info().Str("module", "app.rooms").Str("room_id", string(e.room.ID)).Str("host", host).Msg("room created")
	return e.room.Snapshot(), nil
}

func (rr *RoomRegistry) entry(id domain.RoomID) (*roomEntry, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	e, ok := rr.rooms[id]
	return e, ok
}

// Get returns a snapshot of the room.
func (rr *RoomRegistry) Get(id domain.RoomID) (domain.Room, bool) {
	e, ok := rr.entry(id)
	if !ok {
		return domain.Room{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Snapshot(), true
}

// Join applies the role and capacity rules. The host may re-join any number
// of times, the first other name takes the guest slot, and that same name
// may re-join; any third name gets ErrRoomFull.
func (rr *RoomRegistry) Join(id domain.RoomID, participantName string) (JoinResult, error) {
	name, err := domain.NormalizeUsername(participantName)
	if err != nil {
		return JoinResult{}, err
	}
	e, ok := rr.entry(id)
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(rr.now()); err != nil {
		return JoinResult{}, err
	}

	res := JoinResult{}
	switch {
	case name == e.room.HostUserName:
		res.Role = domain.RoleHost
	case e.room.ParticipantUserName == "":
		e.room.ParticipantUserName = name
		res.Role = domain.RoleParticipant
		res.NewParticipant = true
	case e.room.ParticipantUserName == name:
		res.Role = domain.RoleParticipant
	default:
		return JoinResult{}, ErrRoomFull
	}
	res.Room = e.room.Snapshot()

	log.Info().
		Str("module", "app.rooms").
		Str("room_id", string(id)).
		Str("user", name).
		Str("role", string(res.Role)).
		Msg("joined")
	return res, nil
}

// End marks the room ended. Only the host may end it and ending is terminal.
// The returned snapshot carries the guest to notify and the transcript.
func (rr *RoomRegistry) End(id domain.RoomID, requesterName string) (domain.Room, error) {
	e, ok := rr.entry(id)
	if !ok {
		return domain.Room{}, ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(rr.now()); err != nil {
		return domain.Room{}, err
	}
	if e.room.RoleOf(requesterName) != domain.RoleHost {
		return domain.Room{}, ErrNotRoomHost
	}
	e.room.Ended = true
	rr.metrics.RoomClosed()

	log.Info().
		Str("module", "app.rooms").
		Str("room_id", string(id)).
		Int("transcripts", len(e.room.Transcripts)).
		Msg("room ended")
	return e.room.Snapshot(), nil
}

// Record appends a transcript line to an open room.
func (rr *RoomRegistry) Record(id domain.RoomID, line domain.TranscriptLine) bool {
	e, ok := rr.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.usable(rr.now()) != nil {
		return false
	}
	e.room.Transcripts = append(e.room.Transcripts, line)
	return true
}

// Sweep drops rooms ended or expired at now and returns how many it removed.
func (rr *RoomRegistry) Sweep(now time.Time) int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	removed := 0
	for id, e := range rr.rooms {
		e.mu.Lock()
		ended, expired := e.room.Ended, e.room.Expired(now)
		e.mu.Unlock()
		if !ended && !expired {
			continue
		}
		delete(rr.rooms, id)
		if !ended {
			rr.metrics.RoomClosed()
		}
		removed++
	}
	if removed > 0 {
		log.Debug().Str("module", "app.rooms").Int("removed", removed).Msg("swept rooms")
	}
	return removed
}

func (rr *RoomRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}
