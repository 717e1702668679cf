package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/gorilla/websocket"
)

type fakeUpstream struct {
	srv      *httptest.Server
	conns    atomic.Int32
	messages chan string
	headers  chan http.Header

	mu   sync.Mutex
	live []*websocket.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{messages: make(chan string, 64), headers: make(chan http.Header, 8)}
	upgrader := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		u.conns.Add(1)
		u.headers <- r.Header.Clone()
		u.mu.Lock()
		u.live = append(u.live, conn)
		u.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			u.messages <- string(data)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) URL() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

// push sends a server event on every live connection.
func (u *fakeUpstream) push(t *testing.T, msg string) {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.live {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
}

func (u *fakeUpstream) dropAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.live {
		c.Close()
	}
	u.live = nil
}

type sinkCall struct {
	kind  string
	owner core.SessionID
	user  string
	raw   string
	ev    Event
	err   error
}

type recordingSink struct {
	calls chan sinkCall
}

func newRecordingSink() *recordingSink {
	return &recordingSink{calls: make(chan sinkCall, 64)}
}

func (s *recordingSink) OnMessage(owner core.SessionID, user string, raw []byte, ev Event) {
	s.calls <- sinkCall{kind: "message", owner: owner, user: user, raw: string(raw), ev: ev}
}

func (s *recordingSink) OnError(owner core.SessionID, user string, err error) {
	s.calls <- sinkCall{kind: "error", owner: owner, user: user, err: err}
}

func (s *recordingSink) OnClosed(owner core.SessionID, user string) {
	s.calls <- sinkCall{kind: "closed", owner: owner, user: user}
}

func (s *recordingSink) next(t *testing.T, kind string) sinkCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-s.calls:
			if c.kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("no %s call", kind)
		}
	}
}

func testOptions(url string) Options {
	return Options{
		URL:            url,
		APIKey:         "sk-test",
		ConnectTimeout: time.Second,
		SettleDelay:    10 * time.Millisecond,
		Session: SessionConfig{
			Modalities:       []string{"text"},
			InputAudioFormat: "pcm16",
		},
	}
}

func nextMessage(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no upstream message")
		return ""
	}
}

func TestConnectSingleUpstreamAndConfigOnce(t *testing.T) {
	up := newFakeUpstream(t)
	m := NewManager(testOptions(up.URL()), newRecordingSink(), nil)
	defer m.Close()

	st, err := m.Connect(context.Background(), "alice", "c1")
	if err != nil || st != Connected {
		t.Fatalf("connect=%v err=%v, want connected", st, err)
	}
	st, err = m.Connect(context.Background(), "alice", "c2")
	if err != nil || st != AlreadyConnected {
		t.Fatalf("second connect=%v err=%v, want already connected", st, err)
	}

	h := <-up.headers
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("authorization=%q", got)
	}
	if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Fatalf("beta header=%q", got)
	}

	first := nextMessage(t, up.messages)
	if !strings.Contains(first, `"type":"session.update"`) || !strings.Contains(first, `"input_audio_format":"pcm16"`) {
		t.Fatalf("first message=%s, want session.update", first)
	}
	select {
	case extra := <-up.messages:
		t.Fatalf("unexpected upstream message %s", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("upstream conns=%d, want 1", n)
	}
}

func TestConcurrentConnectSharesDial(t *testing.T) {
	up := newFakeUpstream(t)
	m := NewManager(testOptions(up.URL()), newRecordingSink(), nil)
	defer m.Close()

	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := m.Connect(context.Background(), "alice", "c1")
			if err != nil {
				t.Errorf("connect: %v", err)
				return
			}
			if st == Connected {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	if fresh.Load() != 1 {
		t.Fatalf("connected=%d, want exactly 1", fresh.Load())
	}
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("upstream conns=%d, want 1", n)
	}
}

func TestSendRequiresSession(t *testing.T) {
	up := newFakeUpstream(t)
	m := NewManager(testOptions(up.URL()), newRecordingSink(), nil)
	defer m.Close()

	if err := m.Send("alice", []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want %v", err, ErrNotConnected)
	}
	m.Connect(context.Background(), "alice", "c1")
	nextMessage(t, up.messages)

	if err := m.AppendAudio("alice", "AAAA"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := nextMessage(t, up.messages); got != `{"type":"input_audio_buffer.append","audio":"AAAA"}` {
		t.Fatalf("forwarded=%s", got)
	}
}

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

type failingDialer struct{}

func (failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	return nil, nil, errors.New("connection refused")
}

func TestConnectFailures(t *testing.T) {
	opts := testOptions("ws://upstream.invalid")
	opts.ConnectTimeout = 30 * time.Millisecond

	m := NewManager(opts, newRecordingSink(), nil)
	m.SetDialer(blockingDialer{})
	if _, err := m.Connect(context.Background(), "alice", "c1"); !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("err=%v, want %v", err, ErrUpstreamTimeout)
	}

	m.SetDialer(failingDialer{})
	if _, err := m.Connect(context.Background(), "alice", "c1"); !errors.Is(err, ErrUpstreamConnectFailed) {
		t.Fatalf("err=%v, want %v", err, ErrUpstreamConnectFailed)
	}
	if m.Connected("alice") {
		t.Fatalf("failed connect left a session")
	}
}

func TestUpstreamEventsAndClose(t *testing.T) {
	up := newFakeUpstream(t)
	sink := newRecordingSink()
	m := NewManager(testOptions(up.URL()), sink, nil)
	defer m.Close()

	m.Connect(context.Background(), "alice", "c1")
	nextMessage(t, up.messages)
	m.Connect(context.Background(), "alice", "c2")

	up.push(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`)
	got := sink.next(t, "message")
	if got.owner != "c2" || got.ev.Kind != EventTranscriptionCompleted || got.ev.Text != "hello" {
		t.Fatalf("message=%+v", got)
	}

	up.dropAll()
	closed := sink.next(t, "closed")
	if closed.owner != "c2" || closed.user != "alice" {
		t.Fatalf("closed=%+v", closed)
	}
	if m.Connected("alice") {
		t.Fatalf("session survived upstream close")
	}
}

func TestDisconnectOwned(t *testing.T) {
	up := newFakeUpstream(t)
	sink := newRecordingSink()
	m := NewManager(testOptions(up.URL()), sink, nil)
	defer m.Close()

	m.Connect(context.Background(), "alice", "c1")
	m.Connect(context.Background(), "alice", "c2")

	if m.DisconnectOwned("alice", "c1") {
		t.Fatalf("stale owner closed the session")
	}
	if !m.DisconnectOwned("alice", "c2") {
		t.Fatalf("owner could not close the session")
	}
	sink.next(t, "closed")
	if m.Disconnect("alice") {
		t.Fatalf("second disconnect reported a session")
	}
	if m.Count() != 0 {
		t.Fatalf("count=%d, want 0", m.Count())
	}
}

type sliceSource struct{ ch chan string }

func (s sliceSource) Frames() <-chan string { return s.ch }

func TestPump(t *testing.T) {
	up := newFakeUpstream(t)
	m := NewManager(testOptions(up.URL()), newRecordingSink(), nil)
	defer m.Close()

	src := sliceSource{ch: make(chan string, 2)}
	src.ch <- "AQ=="
	src.ch <- "Ag=="
	close(src.ch)
	if err := m.Pump(context.Background(), "alice", src); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want %v", err, ErrNotConnected)
	}

	m.Connect(context.Background(), "alice", "c1")
	nextMessage(t, up.messages)
	src = sliceSource{ch: make(chan string, 2)}
	src.ch <- "AQ=="
	src.ch <- "Ag=="
	close(src.ch)
	if err := m.Pump(context.Background(), "alice", src); err != nil {
		t.Fatalf("pump: %v", err)
	}
	for _, want := range []string{"AQ==", "Ag=="} {
		if got := nextMessage(t, up.messages); !strings.Contains(got, want) {
			t.Fatalf("frame=%s, want %s", got, want)
		}
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		raw  string
		kind EventKind
		text string
	}{
		{`{"type":"input_audio_buffer.speech_started"}`, EventSpeechStarted, ""},
		{`{"type":"input_audio_buffer.speech_stopped"}`, EventSpeechStopped, ""},
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"oi"}`, EventTranscriptionCompleted, "oi"},
		{`{"type":"session.updated"}`, EventOther, ""},
	}
	for _, tt := range tests {
		ev, err := ParseEvent([]byte(tt.raw))
		if err != nil {
			t.Fatalf("parse %s: %v", tt.raw, err)
		}
		if ev.Kind != tt.kind || ev.Text != tt.text {
			t.Fatalf("parse %s=%+v, want kind %v text %q", tt.raw, ev, tt.kind, tt.text)
		}
	}

	ev, err := ParseEvent([]byte(`{"type":"error","error":{"message":"bad key"}}`))
	if err != nil || ev.Kind != EventError || ev.Message != "bad key" {
		t.Fatalf("error event=%+v err=%v", ev, err)
	}
	if _, err := ParseEvent([]byte(`{}`)); !errors.Is(err, ErrNoType) {
		t.Fatalf("err=%v, want %v", err, ErrNoType)
	}
}

func TestSendWhileClosingIsNotConnected(t *testing.T) {
	up := newFakeUpstream(t)
	m := NewManager(testOptions(up.URL()), newRecordingSink(), nil)
	defer m.Close()

	m.Connect(context.Background(), "alice", "c1")
	s := m.get("alice")
	if s == nil {
		t.Fatalf("no session after connect")
	}
	s.close()

	if err := m.Send("alice", []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want %v", err, ErrNotConnected)
	}
}
