package transcription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/gorilla/websocket"
)

// session is one open upstream connection. Writes are serialized;
// the owner is the client connection that receives upstream events.
type session struct {
	user         string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu    sync.Mutex
	owner core.SessionID

	configOnce sync.Once
	settle     *time.Timer

	closing   atomic.Bool
	closeOnce sync.Once
}

func newSession(user string, owner core.SessionID, conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{user: user, owner: owner, conn: conn, writeTimeout: writeTimeout}
}

func (s *session) Owner() core.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *session) setOwner(owner core.SessionID) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// scheduleConfig sends the session config once after delay.
func (s *session) scheduleConfig(delay time.Duration, send func()) {
	fire := func() { s.configOnce.Do(send) }
	if delay == 0 {
		fire()
		return
	}
	s.mu.Lock()
	s.settle = time.AfterFunc(delay, fire)
	s.mu.Unlock()
}

// close is idempotent. A close started here is not reported as an upstream error.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		if s.settle != nil {
			s.settle.Stop()
		}
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
