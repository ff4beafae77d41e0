// Package signal is the server side of the signaling WebSocket. Every socket
// gets a connection id, is attached to the hub, and has its messages dispatched
// to join, move, signal relay and ping handlers.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/gridvoice/internal/app/presence"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionTokenKey is where the HTTP login stores the token in the cookie session.
const SessionTokenKey = "token"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
	GridSize   int
	Threshold  int
}

type SignalWSController struct {
	hub     *presence.Hub
	limiter *JoinRateLimiter
	opts    Options
}

func NewSignalWSController(hub *presence.Hub, limiter *JoinRateLimiter, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	return &SignalWSController{hub: hub, limiter: limiter, opts: opts}
}

type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame
	// sessionToken is the cookie session token captured at upgrade time.
	sessionToken string

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued, sends a
// close frame and then closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token, _ := sessions.Default(c).Get(SessionTokenKey).(string)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		id:           core.ConnID(uuid.NewString()),
		conn:         ws,
		send:         make(chan core.Frame, ctl.opts.SendQueue),
		sessionToken: token,
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Msg("new WS connection")

	// welcome is queued before Attach so it precedes any broadcast.
	ctl.sendJSON(conn, protocol.Welcome{
		Type:         protocol.TypeWelcome,
		ConnectionID: conn.id,
		GridSize:     ctl.opts.GridSize,
		Threshold:    ctl.opts.Threshold,
	})
	ctl.hub.Attach(conn.id, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
