// Package ws serves the per-player websocket connection of a live session.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/app/orch"
	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
)

// Cookie session keys written by the matchmaking endpoints.
const (
	SessionKeySession = "session_id"
	SessionKeyPlayer  = "player_id"
)

const outboundInitialCapacity = 16

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration

	// RateLimit is the number of inbound envelopes allowed per RateInterval; 0 disables limiting.
	RateLimit    int
	RateInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32 << 10,
		PingPeriod:   54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    5 * time.Second,
		RateLimit:    60,
		RateInterval: time.Second,
	}
}

type Controller struct {
	Orch *orch.Orchestrator

	opts     Options
	limiter  *PlayerRateLimiter
	upgrader websocket.Upgrader

	// conns counts Handle calls in flight.
	conns sync.WaitGroup
}

func NewController(o *orch.Orchestrator, opts Options) *Controller {
	ctl := &Controller{
		Orch: o,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if opts.RateLimit > 0 {
		ctl.limiter = NewPlayerRateLimiter(opts.RateLimit, opts.RateInterval)
	}
	return ctl
}

// Handle upgrades the request and serves the connection until it closes.
// It blocks for the lifetime of the connection.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	ctl.conns.Add(1)
	defer ctl.conns.Done()

	sid, pid := resolveIdentity(c)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}

	conn := newConn(ws, sid, pid, ctl.opts)
	log.Info().Str("module", "adapters.ws").Str("session", string(sid)).Str("player", string(pid)).Msg("new WS connection")

	if err := pid.Validate(); err != nil {
		conn.fail(err)
		return
	}
	if sid == "" {
		conn.fail(fmt.Errorf("%w: missing session_id", domain.ErrSessionNotFound))
		return
	}

	ctl.serve(ctx, conn)
}

// Wait blocks until every connection has detached and closed, or ctx ends.
func (ctl *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ctl.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ctl *Controller) serve(ctx context.Context, c *Conn) {
	if _, err := ctl.Orch.Attach(ctx, c.session, c.player, c.out); err != nil {
		c.fail(err)
		return
	}
	c.setState(StateAttached)

	err := c.run(ctx, ctl.handleFrame)

	c.setState(StateClosing)
	ctl.Orch.Detach(c.session, c.player)
	ctl.limiter.Forget(c.player)
	c.shutdown()

	ev := log.Info()
	if err != nil && !errors.Is(err, errClientClosed) && ctx.Err() == nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "adapters.ws").Str("session", string(c.session)).Str("player", string(c.player)).Msg("connection closed")
}

// handleFrame processes one inbound message. A non-nil error ends the connection.
func (ctl *Controller) handleFrame(c *Conn, data []byte) error {
	if !ctl.limiter.Allow(c.player) {
		ctl.Orch.Metrics.Inbound("rate_limited")
		c.replyError(domain.ErrRateLimited)
		return nil
	}

	env, err := domain.DecodeEnvelope(data)
	if err == nil && domain.Reserved(env.Type) {
		err = fmt.Errorf("%w: type %q is reserved", domain.ErrInvalidMessage, env.Type)
	}
	if err != nil {
		ctl.Orch.Metrics.Inbound("invalid")
		log.Debug().Err(err).Str("module", "adapters.ws").Str("player", string(c.player)).Msg("bad envelope")
		c.replyError(err)
		return nil
	}

	if env.Type == domain.TypePing {
		ctl.Orch.Metrics.Inbound("ping")
		c.replyPong()
		return nil
	}

	if _, err := ctl.Orch.Broadcast(c.session, c.player, core.Frame(data)); err != nil {
		return err
	}
	ctl.Orch.Metrics.Inbound("relayed")
	return nil
}

// resolveIdentity reads session_id and player_id from the query string,
// falling back to the cookie session set by the matchmaking endpoints.
func resolveIdentity(c *gin.Context) (domain.SessionID, domain.PlayerID) {
	sid := domain.SessionID(c.Query("session_id"))
	pid := domain.PlayerID(c.Query("player_id"))
	if sid != "" && pid != "" {
		return sid, pid
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return sid, pid
	}
	store := sessions.Default(c)
	if sid == "" {
		if v, ok := store.Get(SessionKeySession).(string); ok {
			sid = domain.SessionID(v)
		}
	}
	if pid == "" {
		if v, ok := store.Get(SessionKeyPlayer).(string); ok {
			pid = domain.PlayerID(v)
		}
	}
	return sid, pid
}
