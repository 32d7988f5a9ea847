package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
)

type State int32

const (
	StateConnecting State = iota
	StateAttached
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one player's websocket in a session.
// The drain loop is the only writer of data frames; control frames may be written concurrently.
type Conn struct {
	ws      *websocket.Conn
	session domain.SessionID
	player  domain.PlayerID
	out     *core.Outbound
	opts    Options

	state     atomic.Int32
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, sid domain.SessionID, pid domain.PlayerID, opts Options) *Conn {
	return &Conn{
		ws:      ws,
		session: sid,
		player:  pid,
		out:     core.NewOutbound(outboundInitialCapacity),
		opts:    opts,
	}
}

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// fail reports err to a connection that never attached and closes it.
// Nothing else writes to the socket at this point.
func (c *Conn) fail(err error) {
	c.setState(StateClosing)
	if frame, encErr := errorFrame(err); encErr == nil {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		_ = c.ws.WriteMessage(websocket.TextMessage, frame)
	}
	c.out.Close()
	c.closeSocket(websocket.ClosePolicyViolation, domain.Code(err))
	c.setState(StateClosed)
}

// shutdown closes an attached connection after its loops have stopped.
func (c *Conn) shutdown() {
	c.out.Close()
	c.closeSocket(websocket.CloseNormalClosure, "")
	c.setState(StateClosed)
}

// closeSocket sends one close frame and closes the socket. Only the first call has effect.
// It uses WriteControl and Close, the two calls gorilla allows from any goroutine.
func (c *Conn) closeSocket(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		_ = c.ws.Close()
	})
}
