package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Arena/internal/app"
	"github.com/dkeye/Arena/internal/app/orch"
	"github.com/dkeye/Arena/internal/domain"
)

type harness struct {
	orch   *orch.Orchestrator
	ctl    *Controller
	server *httptest.Server
	cancel context.CancelFunc
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PingPeriod = 5 * time.Second
	opts.PongWait = 10 * time.Second
	opts.WriteWait = time.Second
	opts.RateLimit = 0
	return opts
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	relay := app.NewRelay(app.ExcludeSender)
	mm := app.NewMatchmaking(app.MatchmakingConfig{Capacity: 2, Timeout: time.Minute}, relay)
	o := orch.New(mm, relay, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ctl := NewController(o, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.Handle(ctx, c) })
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		mm.Close()
	})
	return &harness{orch: o, ctl: ctl, server: srv, cancel: cancel}
}

func (h *harness) match(t *testing.T, players ...domain.PlayerID) domain.SessionID {
	t.Helper()
	sid, err := h.orch.CreateMatching(players[0], nil)
	require.NoError(t, err)
	for _, p := range players[1:] {
		require.NoError(t, h.orch.JoinMatching(p, sid, nil))
	}
	return sid
}

func (h *harness) dial(t *testing.T, sid domain.SessionID, pid domain.PlayerID) *websocket.Conn {
	t.Helper()
	q := url.Values{}
	q.Set("session_id", string(sid))
	q.Set("player_id", string(pid))
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, c *websocket.Conn) (domain.Envelope, []byte) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := domain.DecodeEnvelope(data)
	require.NoError(t, err)
	return env, data
}

func readError(t *testing.T, c *websocket.Conn) domain.ErrorPayload {
	t.Helper()
	env, _ := readEnvelope(t, c)
	require.Equal(t, domain.TypeError, env.Type)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func send(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestTwoPlayersRelay(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1", "p2")

	c1 := h.dial(t, sid, "p1")
	env, _ := readEnvelope(t, c1)
	require.Equal(t, domain.TypeAttached, env.Type)
	var attached domain.AttachedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &attached))
	assert.Equal(t, domain.AttachedPayload{SessionID: sid, PlayerID: "p1", Peers: []domain.PlayerID{}}, attached)

	c2 := h.dial(t, sid, "p2")
	env, _ = readEnvelope(t, c2)
	require.Equal(t, domain.TypeAttached, env.Type)
	require.NoError(t, json.Unmarshal(env.Payload, &attached))
	assert.Equal(t, []domain.PlayerID{"p1"}, attached.Peers)

	env, _ = readEnvelope(t, c1)
	assert.Equal(t, domain.TypePeerJoined, env.Type)
	assert.JSONEq(t, `{"player_id":"p2"}`, string(env.Payload))

	msg := `{"type":"move","payload":{"x":1,"y":2}}`
	send(t, c1, msg)
	_, raw := readEnvelope(t, c2)
	assert.Equal(t, msg, string(raw))

	send(t, c2, `{"type":"attack"}`)
	_, raw = readEnvelope(t, c1)
	assert.Equal(t, `{"type":"attack"}`, string(raw))
}

func TestInvalidMessageKeepsConnection(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1", "p2")
	c1 := h.dial(t, sid, "p1")
	readEnvelope(t, c1)
	c2 := h.dial(t, sid, "p2")
	readEnvelope(t, c2)
	readEnvelope(t, c1)

	send(t, c1, `not json`)
	assert.Equal(t, domain.CodeInvalidMessage, readError(t, c1).Code)

	send(t, c1, `{"type":"peer_left","payload":{"player_id":"p2"}}`)
	assert.Equal(t, domain.CodeInvalidMessage, readError(t, c1).Code, "server types cannot be forged")

	send(t, c1, `{"type":"ping"}`)
	env, _ := readEnvelope(t, c1)
	assert.Equal(t, domain.TypePong, env.Type)

	send(t, c1, `{"type":"still-here"}`)
	_, raw := readEnvelope(t, c2)
	assert.Equal(t, `{"type":"still-here"}`, string(raw), "only valid frames reach the peer")
}

func TestDisconnectDetachesAndAnnounces(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1", "p2")
	c1 := h.dial(t, sid, "p1")
	readEnvelope(t, c1)
	c2 := h.dial(t, sid, "p2")
	readEnvelope(t, c2)
	readEnvelope(t, c1)

	require.NoError(t, c2.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = c2.Close()

	env, _ := readEnvelope(t, c1)
	assert.Equal(t, domain.TypePeerLeft, env.Type)
	assert.JSONEq(t, `{"player_id":"p2"}`, string(env.Payload))
	assert.Eventually(t, func() bool { return !h.orch.Relay.IsMember("p2") }, 2*time.Second, 10*time.Millisecond)

	_ = c1.Close()
	assert.Eventually(t, func() bool {
		_, ok := h.orch.Relay.Info(sid)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "empty session is deleted")
	assert.False(t, h.orch.Matchmaking.Exists(sid))
}

func TestAbruptDisconnectDetaches(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1", "p2")
	c1 := h.dial(t, sid, "p1")
	readEnvelope(t, c1)
	c2 := h.dial(t, sid, "p2")
	readEnvelope(t, c2)
	readEnvelope(t, c1)

	// Drop the TCP connection without a close frame.
	require.NoError(t, c2.UnderlyingConn().Close())

	env, _ := readEnvelope(t, c1)
	assert.Equal(t, domain.TypePeerLeft, env.Type)
	assert.JSONEq(t, `{"player_id":"p2"}`, string(env.Payload))
	assert.Eventually(t, func() bool { return !h.orch.Relay.IsMember("p2") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c1.UnderlyingConn().Close())
	assert.Eventually(t, func() bool {
		_, ok := h.orch.Relay.Info(sid)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "empty session is deleted")
	assert.False(t, h.orch.Matchmaking.Exists(sid))
}

func TestAttachFailureSendsErrorAndCloses(t *testing.T) {
	h := newHarness(t, testOptions())

	c := h.dial(t, "missing", "p1")
	assert.Equal(t, domain.CodeSessionNotFound, readError(t, c).Code)
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestInvalidPlayerRejected(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1")

	c := h.dial(t, sid, "")
	assert.Equal(t, domain.CodeInvalidRequest, readError(t, c).Code)
	assert.True(t, h.orch.Matchmaking.IsWaiting("p1"))
}

func TestSecondConnectionForSamePlayerRejected(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1")
	c1 := h.dial(t, sid, "p1")
	readEnvelope(t, c1)

	c2 := h.dial(t, sid, "p1")
	assert.Equal(t, domain.CodeAlreadyAttached, readError(t, c2).Code)

	send(t, c1, `{"type":"ping"}`)
	env, _ := readEnvelope(t, c1)
	assert.Equal(t, domain.TypePong, env.Type, "the first connection survives")
}

func TestRateLimitedMessages(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = 2
	opts.RateInterval = time.Minute
	h := newHarness(t, opts)
	sid := h.match(t, "p1")
	c := h.dial(t, sid, "p1")
	readEnvelope(t, c)

	send(t, c, `{"type":"ping"}`)
	send(t, c, `{"type":"ping"}`)
	send(t, c, `{"type":"ping"}`)

	env, _ := readEnvelope(t, c)
	assert.Equal(t, domain.TypePong, env.Type)
	env, _ = readEnvelope(t, c)
	assert.Equal(t, domain.TypePong, env.Type)
	assert.Equal(t, domain.CodeRateLimited, readError(t, c).Code)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1")
	c := h.dial(t, sid, "p1")
	readEnvelope(t, c)

	h.cancel()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Eventually(t, func() bool { return !h.orch.Relay.IsMember("p1") }, 2*time.Second, 10*time.Millisecond)
}

func TestServerShutdownDoesNotWaitForClient(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1")
	c := h.dial(t, sid, "p1")
	readEnvelope(t, c)

	// The client never reads again, so it never answers the close frame.
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctl.Wait(ctx), "connection outlived the server context")
	assert.False(t, h.orch.Relay.IsMember("p1"))
}

func TestControllerWait(t *testing.T) {
	h := newHarness(t, testOptions())
	sid := h.match(t, "p1", "p2")
	c1 := h.dial(t, sid, "p1")
	readEnvelope(t, c1)
	c2 := h.dial(t, sid, "p2")
	readEnvelope(t, c2)

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.ctl.Wait(expired), context.Canceled, "connections are still open")

	h.cancel()
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, h.ctl.Wait(ctx))

	assert.Equal(t, app.RelayStats{}, h.orch.Relay.Stats(), "every connection detached before Wait returned")
	assert.False(t, h.orch.Matchmaking.Exists(sid))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "attached", StateAttached.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
