package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUpstreamConnectFailed = errors.New("upstream connect failed")
	ErrUpstreamTimeout       = errors.New("upstream connect timed out")
	ErrUpstreamError         = errors.New("upstream error")
	ErrNotConnected          = errors.New("not connected to transcription service")
	ErrManagerClosed         = errors.New("transcription proxy closed")
)

type ConnectStatus int

const (
	Connected ConnectStatus = iota
	AlreadyConnected
)

func (s ConnectStatus) String() string {
	if s == AlreadyConnected {
		return "already connected"
	}
	return "connected"
}

// Sink receives upstream traffic. Calls come from the session's read goroutine.
type Sink interface {
	OnMessage(owner core.SessionID, user string, raw []byte, ev Event)
	OnError(owner core.SessionID, user string, err error)
	OnClosed(owner core.SessionID, user string)
}

// Dialer opens the upstream websocket; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Manager owns every upstream session, at most one per user name.
type Manager struct {
	opts    Options
	dialer  Dialer
	sink    Sink
	metrics *metrics.Metrics

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewManager(opts Options, sink Sink, m *metrics.Metrics) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		dialer:   websocket.DefaultDialer,
		sink:     sink,
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

// SetDialer replaces the upstream dialer.
func (m *Manager) SetDialer(d Dialer) { m.dialer = d }

func (m *Manager) get(user string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[user]
}

// Connect opens the upstream session for user. If one is already open the
// owner is moved to the caller and AlreadyConnected is returned. Concurrent
// connects for one user share a single dial.
func (m *Manager) Connect(ctx context.Context, user string, owner core.SessionID) (ConnectStatus, error) {
	if s := m.get(user); s != nil {
		s.setOwner(owner)
		return AlreadyConnected, nil
	}

	dialed := false
	v, err, _ := m.group.Do(user, func() (any, error) {
		dialed = true
		return m.dial(ctx, user, owner)
	})
	if err != nil {
		return 0, err
	}
	res := v.(dialResult)
	if !dialed || !res.fresh {
		res.s.setOwner(owner)
		return AlreadyConnected, nil
	}
	return Connected, nil
}

type dialResult struct {
	s     *session
	fresh bool
}

func (m *Manager) dial(ctx context.Context, user string, owner core.SessionID) (dialResult, error) {
	if s := m.get(user); s != nil {
		return dialResult{s: s}, nil
	}

	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.opts.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := m.dialer.DialContext(dctx, m.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			m.metrics.UpstreamFailed(metrics.ReasonTimeout)
			log.Warn().Str("module", "transcription").Str("user", user).Dur("timeout", m.opts.ConnectTimeout).Msg("upstream connect timed out")
			return dialResult{}, ErrUpstreamTimeout
		}
		m.metrics.UpstreamFailed(metrics.ReasonDial)
		log.Warn().Err(err).Str("module", "transcription").Str("user", user).Msg("upstream connect failed")
		return dialResult{}, fmt.Errorf("%w: %v", ErrUpstreamConnectFailed, err)
	}

	s := newSession(user, owner, conn, m.opts.WriteTimeout)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.close()
		return dialResult{}, ErrManagerClosed
	}
	m.sessions[user] = s
	m.mu.Unlock()
	m.metrics.UpstreamOpened()

	log.Info().Str("module", "transcription").Str("user", user).Str("sid", string(owner)).Msg("upstream connected")

	go m.readLoop(s)
	s.scheduleConfig(m.opts.SettleDelay, func() {
		if err := m.sendJSON(s, SessionUpdate{Type: TypeSessionUpdate, Session: m.opts.Session}); err != nil {
			log.Warn().Err(err).Str("module", "transcription").Str("user", user).Msg("session config not sent")
			return
		}
		log.Debug().Str("module", "transcription").Str("user", user).Msg("session configured")
	})
	return dialResult{s: s, fresh: true}, nil
}

func (m *Manager) readLoop(s *session) {
	var readErr error
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		ev, err := ParseEvent(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "transcription").Str("user", s.user).Msg("unparsed upstream message")
			ev = Event{Kind: EventOther}
		}
		m.sink.OnMessage(s.Owner(), s.user, data, ev)
	}

	expected := s.closing.Load()
	m.remove(s)
	s.close()
	m.metrics.UpstreamClosed()

	owner := s.Owner()
	if !expected && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn().Err(readErr).Str("module", "transcription").Str("user", s.user).Msg("upstream read failed")
		m.sink.OnError(owner, s.user, fmt.Errorf("%w: %v", ErrUpstreamError, readErr))
	}
	log.Info().Str("module", "transcription").Str("user", s.user).Msg("upstream closed")
	m.sink.OnClosed(owner, s.user)
}

// remove drops s from the table unless a newer session took its place.
func (m *Manager) remove(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.user] == s {
		delete(m.sessions, s.user)
	}
}

func (m *Manager) sendJSON(s *session, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(raw)
}

// Send forwards one text frame to the user's upstream as it is. A session
// that is closing counts as not connected.
func (m *Manager) Send(user string, msg []byte) error {
	s := m.get(user)
	if s == nil || s.closing.Load() {
		return ErrNotConnected
	}
	if err := s.write(msg); err != nil {
		if s.closing.Load() {
			return ErrNotConnected
		}
		return fmt.Errorf("%w: %v", ErrUpstreamError, err)
	}
	return nil
}

// AppendAudio forwards one base64 PCM16 frame.
func (m *Manager) AppendAudio(user, b64 string) error {
	raw, err := json.Marshal(AudioAppend{Type: TypeAudioAppend, Audio: b64})
	if err != nil {
		return err
	}
	return m.Send(user, raw)
}

// Disconnect closes the user's session. It is a no-op without one.
func (m *Manager) Disconnect(user string) bool {
	m.mu.Lock()
	s, ok := m.sessions[user]
	if ok {
		delete(m.sessions, user)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	log.Info().Str("module", "transcription").Str("user", user).Msg("upstream disconnected")
	return true
}

// DisconnectOwned closes the user's session only while owner still owns it.
func (m *Manager) DisconnectOwned(user string, owner core.SessionID) bool {
	m.mu.Lock()
	s, ok := m.sessions[user]
	if !ok || s.Owner() != owner {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, user)
	m.mu.Unlock()
	s.close()
	log.Info().Str("module", "transcription").Str("user", user).Str("sid", string(owner)).Msg("upstream closed with its owner")
	return true
}

func (m *Manager) Connected(user string) bool {
	return m.get(user) != nil
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close shuts every session down and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*session, 0, len(m.sessions))
	for user, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, user)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
