package app

import (
	"context"
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session *core.Session
	Signal  core.SignalConnection
	Cancel  context.CancelFunc
}

// Registry is the connection registry: every live, authenticated
// connection keyed by its id, plus a user name index for routing.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	byName   map[string]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		byName:   make(map[string]core.SessionID),
	}
}

// Bind registers a connection. A later connection for the same user name
// becomes the routing target for that name.
func (r *Registry) Bind(sess *core.Session, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = &sessionEntry{Session: sess, Signal: sig, Cancel: cancel}
	r.byName[sess.UserName] = sess.ID
	log.Info().
		Str("module", "app.registry").
		Str("sid", string(sess.ID)).
		Str("client", sess.ClientToken).
		Str("user", sess.UserName).
		Msg("bound session")
}

// Unbind removes the connection. The name index is only cleared when it
// still points at this connection.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	delete(r.sessions, sid)
	if r.byName[e.Session.UserName] == sid {
		delete(r.byName, e.Session.UserName)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) GetSession(sid core.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// ByName resolves the connection currently serving a user name.
func (r *Registry) ByName(name string) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byName[name]
	return sid, ok
}

// Others lists every connection except sid.
func (r *Registry) Others(sid core.SessionID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		if id != sid {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the connection's pumps; the adapter then runs disconnect cleanup.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
