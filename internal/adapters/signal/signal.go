package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/app/orch"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/idgen"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrConnClosed = errors.New("connection closed")

const (
	defaultReadLimit  = 1 << 20
	defaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
	sendBuffer        = 64
)

type Options struct {
	Credential string
	ReadLimit  int64
	PingPeriod time.Duration
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	return &SignalWSController{Orch: o, opts: opts}
}

// pongWait must exceed the ping period so one late pong is tolerated.
func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.opts.PingPeriod * 10 / 9
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates, upgrades and serves one client until either
// pump stops; cleanup runs before it returns.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	name, status, err := authenticate(c.Request, ctl.opts.Credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("ws rejected")
		c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error(), "code": codeOf(err)})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	sess := core.NewSession(core.SessionID(idgen.NewConnectionID()), name, c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("user", name).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctl.Orch.OnConnect(sess, conn, cancel)

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, cancel, sess, conn) })
	wg.Go(func() { ctl.readPump(ctx, cancel, sess, conn) })
	wg.Wait()

	ctl.Orch.OnDisconnect(sess)
	conn.Close()
}
