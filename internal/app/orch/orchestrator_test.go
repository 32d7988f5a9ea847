package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Arena/internal/app"
	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
	"github.com/dkeye/Arena/internal/observability"
)

type markCall struct {
	session domain.SessionID
	assets  []domain.AssetID
}

type fakeAssets struct {
	mu    sync.Mutex
	calls []markCall
	err   error
	// block holds MarkInUse until closed or the context ends.
	block chan struct{}
}

func (f *fakeAssets) MarkInUse(ctx context.Context, sid domain.SessionID, ids []domain.AssetID) error {
	f.mu.Lock()
	f.calls = append(f.calls, markCall{session: sid, assets: ids})
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeAssets) ListUnused(context.Context) ([]domain.Asset, error) {
	return []domain.Asset{{ID: "m3"}}, nil
}

func (f *fakeAssets) Calls() []markCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]markCall(nil), f.calls...)
}

func newTestOrchestrator(t *testing.T, timeout time.Duration, assets core.AssetStore) *Orchestrator {
	relay := app.NewRelay(app.ExcludeSender)
	mm := app.NewMatchmaking(app.MatchmakingConfig{Capacity: 2, Timeout: timeout}, relay)
	t.Cleanup(mm.Close)
	return New(mm, relay, assets, observability.NewMetrics())
}

func nextEnvelope(t *testing.T, out *core.Outbound) domain.Envelope {
	t.Helper()
	f, ok := out.TryReceive()
	require.True(t, ok, "expected a queued frame")
	env, err := domain.DecodeEnvelope(f)
	require.NoError(t, err)
	return env
}

func counter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTwoPlayerSession(t *testing.T) {
	assets := &fakeAssets{}
	o := newTestOrchestrator(t, time.Minute, assets)

	sid, err := o.CreateMatching("p1", []domain.AssetID{"m1"})
	require.NoError(t, err)
	require.NoError(t, o.JoinMatching("p2", sid, []domain.AssetID{"m2"}))

	out1, out2 := core.NewOutbound(4), core.NewOutbound(4)

	peers, err := o.Attach(context.Background(), sid, "p1", out1)
	require.NoError(t, err)
	assert.Empty(t, peers)
	env := nextEnvelope(t, out1)
	assert.Equal(t, domain.TypeAttached, env.Type)
	assert.JSONEq(t, `{"session_id":"`+string(sid)+`","player_id":"p1","peers":[]}`, string(env.Payload))
	assert.Empty(t, assets.Calls(), "assets are marked only once the session is full")

	peers, err = o.Attach(context.Background(), sid, "p2", out2)
	require.NoError(t, err)
	assert.Equal(t, []domain.PlayerID{"p1"}, peers)
	assert.Equal(t, domain.TypeAttached, nextEnvelope(t, out2).Type)

	env = nextEnvelope(t, out1)
	assert.Equal(t, domain.TypePeerJoined, env.Type)
	assert.JSONEq(t, `{"player_id":"p2"}`, string(env.Payload))
	o.Wait()
	assert.Equal(t, []markCall{{session: sid, assets: []domain.AssetID{"m1", "m2"}}}, assets.Calls())

	res, err := o.Broadcast(sid, "p1", core.Frame(`{"type":"attack","payload":{"damage":3}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SendTo)
	f, ok := out2.TryReceive()
	require.True(t, ok)
	assert.Equal(t, `{"type":"attack","payload":{"damage":3}}`, string(f), "frames are relayed verbatim")
	_, ok = out1.TryReceive()
	assert.False(t, ok)

	o.Detach(sid, "p2")
	env = nextEnvelope(t, out1)
	assert.Equal(t, domain.TypePeerLeft, env.Type)
	o.Detach(sid, "p2")
	_, ok = out1.TryReceive()
	assert.False(t, ok, "repeated detach announces nothing")

	o.Detach(sid, "p1")
	assert.False(t, o.Matchmaking.Exists(sid))
	assert.Equal(t, app.RelayStats{}, o.Relay.Stats())

	reg := o.Metrics.Registry()
	assert.Equal(t, 1.0, counter(t, reg, "arena_matchmaking_requests_total", map[string]string{"op": "create", "result": "ok"}))
	assert.Equal(t, 2.0, counter(t, reg, "arena_relay_attach_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, counter(t, reg, "arena_assets_mark_in_use_total", map[string]string{"result": "ok"}))
}

func TestAttachWithoutMatchmakingFails(t *testing.T) {
	o := newTestOrchestrator(t, time.Minute, nil)

	_, err := o.Attach(context.Background(), "unknown", "p1", core.NewOutbound(4))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sid, err := o.CreateMatching("p1", nil)
	require.NoError(t, err)
	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	require.NoError(t, err)
	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	assert.ErrorIs(t, err, domain.ErrAlreadyAttached)

	assert.Equal(t, 1.0, counter(t, o.Metrics.Registry(), "arena_relay_attach_total", map[string]string{"result": domain.CodeAlreadyAttached}))
}

func TestAssetFailureDoesNotBreakAttach(t *testing.T) {
	assets := &fakeAssets{err: errors.New("db down")}
	o := newTestOrchestrator(t, time.Minute, assets)

	sid, err := o.CreateMatching("p1", []domain.AssetID{"m1"})
	require.NoError(t, err)
	require.NoError(t, o.JoinMatching("p2", sid, nil))
	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	require.NoError(t, err)
	_, err = o.Attach(context.Background(), sid, "p2", core.NewOutbound(4))
	require.NoError(t, err)

	o.Wait()
	assert.Len(t, assets.Calls(), 1)
	assert.Equal(t, 1.0, counter(t, o.Metrics.Registry(), "arena_assets_mark_in_use_total", map[string]string{"result": "error"}))
}

func TestAssetMarkingDoesNotDelayAttach(t *testing.T) {
	assets := &fakeAssets{block: make(chan struct{})}
	o := newTestOrchestrator(t, time.Minute, assets)

	sid, err := o.CreateMatching("p1", []domain.AssetID{"m1"})
	require.NoError(t, err)
	require.NoError(t, o.JoinMatching("p2", sid, []domain.AssetID{"m2"}))
	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	require.NoError(t, err)

	out2 := core.NewOutbound(4)
	done := make(chan error, 1)
	go func() {
		_, err := o.Attach(context.Background(), sid, "p2", out2)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("attach waited for the asset store")
	}
	assert.Equal(t, domain.TypeAttached, nextEnvelope(t, out2).Type)

	assert.Eventually(t, func() bool { return len(assets.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	close(assets.block)
	o.Wait()
	assert.Equal(t, 1.0, counter(t, o.Metrics.Registry(), "arena_assets_mark_in_use_total", map[string]string{"result": "ok"}))
}

func TestAssetMarkingOutlivesCancelledAttach(t *testing.T) {
	assets := &fakeAssets{}
	o := newTestOrchestrator(t, time.Minute, assets)

	sid, err := o.CreateMatching("p1", []domain.AssetID{"m1"})
	require.NoError(t, err)
	require.NoError(t, o.JoinMatching("p2", sid, nil))
	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Attach(ctx, sid, "p2", core.NewOutbound(4))
	require.NoError(t, err)

	o.Wait()
	assert.Equal(t, 1.0, counter(t, o.Metrics.Registry(), "arena_assets_mark_in_use_total", map[string]string{"result": "ok"}))
}

func TestExpiredMatchReleasesReservation(t *testing.T) {
	o := newTestOrchestrator(t, 50*time.Millisecond, nil)

	sid, err := o.CreateMatching("p1", nil)
	require.NoError(t, err)
	_, reserved := o.Relay.Info(sid)
	require.True(t, reserved)

	assert.Eventually(t, func() bool {
		_, ok := o.Relay.Info(sid)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 1.0, counter(t, o.Metrics.Registry(), "arena_matchmaking_timeouts_total", nil))
}

func TestAwaitMatch(t *testing.T) {
	o := newTestOrchestrator(t, time.Minute, nil)
	sid, err := o.CreateMatching("p1", nil)
	require.NoError(t, err)
	require.NoError(t, o.JoinMatching("p2", sid, nil))

	players, err := o.AwaitMatch(context.Background(), sid, "p1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PlayerID{"p1", "p2"}, players)
}

func TestSessionStatus(t *testing.T) {
	o := newTestOrchestrator(t, time.Minute, nil)

	_, err := o.SessionStatus("unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sid, err := o.CreateMatching("p1", nil)
	require.NoError(t, err)
	info, err := o.SessionStatus(sid)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInfo{ID: sid, Capacity: 2, Players: []domain.PlayerID{}}, info)

	_, err = o.Attach(context.Background(), sid, "p1", core.NewOutbound(4))
	require.NoError(t, err)
	info, err = o.SessionStatus(sid)
	require.NoError(t, err)
	assert.Equal(t, []domain.PlayerID{"p1"}, info.Players)
	assert.False(t, info.Full())
}

func TestListAssets(t *testing.T) {
	o := newTestOrchestrator(t, time.Minute, nil)
	assets, err := o.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, assets)

	o = newTestOrchestrator(t, time.Minute, &fakeAssets{})
	assets, err = o.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Asset{{ID: "m3"}}, assets)
}
