package core

import (
	"sync"

	"github.com/dkeye/callrelay/internal/domain"
)

type SessionID string

// Session is the per-connection context threaded through every handler.
// ID, UserName and ClientToken are fixed at handshake; the room binding
// changes on join and is read from upstream callbacks, hence the lock.
type Session struct {
	ID          SessionID
	UserName    string
	ClientToken string

	mu   sync.RWMutex
	room domain.RoomID
	role domain.Role
}

func NewSession(id SessionID, userName, clientToken string) *Session {
	return &Session{ID: id, UserName: userName, ClientToken: clientToken}
}

// BindRoom records the room the connection joined and its role there.
func (s *Session) BindRoom(id domain.RoomID, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = id
	s.role = role
}

// Room returns the joined room, ok is false before any successful join.
func (s *Session) Room() (domain.RoomID, domain.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.role, s.room != ""
}
