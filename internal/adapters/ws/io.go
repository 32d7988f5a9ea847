package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Arena/internal/domain"
)

var errClientClosed = errors.New("client closed connection")

type frameHandler func(c *Conn, data []byte) error

// run drives the read, drain and keepalive loops until one of them stops or ctx ends.
func (c *Conn) run(ctx context.Context, handle frameHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(handle) })
	g.Go(c.drainPump)
	g.Go(func() error { return c.keepalive(gctx) })
	return g.Wait()
}

// readPump always returns a non-nil error so the group is cancelled.
func (c *Conn) readPump(handle frameHandler) error {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return errClientClosed
			}
			return fmt.Errorf("%w: read: %v", domain.ErrTransport, err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if err := handle(c, data); err != nil {
			return err
		}
	}
}

// drainPump writes queued frames until the outbound queue is closed.
func (c *Conn) drainPump() error {
	for {
		frame, ok := c.out.Receive()
		if !ok {
			return nil
		}
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
			return fmt.Errorf("%w: set deadline: %v", domain.ErrTransport, err)
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("%w: write: %v", domain.ErrTransport, err)
		}
	}
}

// keepalive pings the client. Once the group is done it closes the queue and the socket,
// which ends the drain and read loops.
func (c *Conn) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.out.Close()
			c.closeSocket(websocket.CloseNormalClosure, "")
			return nil
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Str("player", string(c.player)).Msg("ping failed")
				return fmt.Errorf("%w: ping: %v", domain.ErrTransport, err)
			}
		}
	}
}
