// Package orch coordinates the matchmaking and relay registries and the asset store.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/app"
	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
	"github.com/dkeye/Arena/internal/observability"
)

const defaultAssetTimeout = 5 * time.Second

type Orchestrator struct {
	Matchmaking *app.Matchmaking
	Relay       *app.Relay
	Assets      core.AssetStore
	Metrics     *observability.Metrics

	AssetTimeout time.Duration

	marks sync.WaitGroup
}

// New wires the registries together and installs the expiry hook.
// assets and metrics may be nil.
func New(mm *app.Matchmaking, relay *app.Relay, assets core.AssetStore, metrics *observability.Metrics) *Orchestrator {
	o := &Orchestrator{
		Matchmaking:  mm,
		Relay:        relay,
		Assets:       assets,
		Metrics:      metrics,
		AssetTimeout: defaultAssetTimeout,
	}
	mm.OnExpire(o.onExpired)
	metrics.Gauge("matchmaking", "waiting_entries", "Players waiting for a connection.", func() float64 {
		return float64(mm.Stats().Waiting)
	})
	metrics.Gauge("matchmaking", "open_matches", "Match records held by matchmaking.", func() float64 {
		return float64(mm.Stats().Matches)
	})
	metrics.Gauge("relay", "sessions", "Live or reserved relay sessions.", func() float64 {
		return float64(relay.Stats().Sessions)
	})
	metrics.Gauge("relay", "attached_players", "Players attached to a live session.", func() float64 {
		return float64(relay.Stats().Players)
	})
	return o
}

func (o *Orchestrator) CreateMatching(pid domain.PlayerID, assets []domain.AssetID) (domain.SessionID, error) {
	sid, err := o.Matchmaking.Create(pid, assets)
	o.Metrics.Matchmaking("create", result(err))
	if err != nil {
		return "", err
	}
	o.Relay.Open(sid, o.Matchmaking.Capacity())
	// The entry may have expired before the reservation existed.
	if !o.Matchmaking.Exists(sid) {
		o.Relay.Discard(sid)
	}
	return sid, nil
}

func (o *Orchestrator) JoinMatching(pid domain.PlayerID, sid domain.SessionID, assets []domain.AssetID) error {
	err := o.Matchmaking.Join(pid, sid, assets)
	o.Metrics.Matchmaking("join", result(err))
	return err
}

func (o *Orchestrator) AwaitMatch(ctx context.Context, sid domain.SessionID, pid domain.PlayerID) ([]domain.PlayerID, error) {
	players, err := o.Matchmaking.Await(ctx, sid, pid)
	if ctx.Err() == nil {
		o.Metrics.Matchmaking("await", result(err))
	}
	return players, err
}

// Attach promotes pid's waiting entry into the live session and announces the arrival.
// The attached envelope is the first frame queued on out.
// Once the session is full the committed assets are marked in use in the background.
func (o *Orchestrator) Attach(ctx context.Context, sid domain.SessionID, pid domain.PlayerID, out core.OutboundSink) ([]domain.PlayerID, error) {
	var peers []domain.PlayerID
	greet := func(p []domain.PlayerID) core.Frame {
		frame, err := domain.EncodeEnvelope(domain.TypeAttached, domain.AttachedPayload{SessionID: sid, PlayerID: pid, Peers: p})
		if err != nil {
			return nil
		}
		return frame
	}
	assets, err := o.Matchmaking.Promote(sid, pid, func() error {
		p, err := o.Relay.Attach(sid, pid, out, greet)
		peers = p
		return err
	})
	o.Metrics.Attach(result(err))
	if err != nil {
		return nil, err
	}

	if frame, err := domain.EncodeEnvelope(domain.TypePeerJoined, domain.PeerPayload{PlayerID: pid}); err == nil {
		o.Relay.Announce(sid, pid, frame)
	}

	if len(peers)+1 >= o.Matchmaking.Capacity() && o.Assets != nil && len(assets) > 0 {
		o.marks.Add(1)
		go func() {
			defer o.marks.Done()
			o.markAssets(context.WithoutCancel(ctx), sid, assets)
		}()
	}
	return peers, nil
}

// Detach removes pid from sid and tells the remaining peers. Safe to call repeatedly.
func (o *Orchestrator) Detach(sid domain.SessionID, pid domain.PlayerID) {
	if !o.Relay.Detach(sid, pid) {
		return
	}
	o.Matchmaking.Release(sid, pid)
	if frame, err := domain.EncodeEnvelope(domain.TypePeerLeft, domain.PeerPayload{PlayerID: pid}); err == nil {
		o.Relay.Announce(sid, pid, frame)
	}
}

func (o *Orchestrator) Broadcast(sid domain.SessionID, pid domain.PlayerID, frame core.Frame) (core.PublishResult, error) {
	res, err := o.Relay.Broadcast(sid, pid, frame)
	if err != nil {
		return res, err
	}
	o.Metrics.Delivered(res.SendTo, len(res.Dropped))
	for _, peer := range res.Dropped {
		log.Debug().Str("module", "orch").Str("session", string(sid)).Str("peer", string(peer)).Msg("peer queue closed, skipped")
	}
	return res, nil
}

// SessionStatus reports the live view of sid, including a reservation nobody has attached to yet.
func (o *Orchestrator) SessionStatus(sid domain.SessionID) (domain.SessionInfo, error) {
	info, ok := o.Relay.Info(sid)
	if !ok {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	return info, nil
}

func (o *Orchestrator) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	if o.Assets == nil {
		return []domain.Asset{}, nil
	}
	return o.Assets.ListUnused(ctx)
}

// Wait blocks until every background asset mark has finished.
func (o *Orchestrator) Wait() {
	o.marks.Wait()
}

func (o *Orchestrator) markAssets(ctx context.Context, sid domain.SessionID, assets []domain.AssetID) {
	ctx, cancel := context.WithTimeout(ctx, o.AssetTimeout)
	defer cancel()
	if err := o.Assets.MarkInUse(ctx, sid, assets); err != nil {
		o.Metrics.AssetMark("error")
		log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("mark assets in use failed")
		return
	}
	o.Metrics.AssetMark("ok")
	log.Info().Str("module", "orch").Str("session", string(sid)).Int("assets", len(assets)).Msg("assets marked in use")
}

func (o *Orchestrator) onExpired(e app.Expiry) {
	o.Metrics.Timeout()
	if e.Abandoned {
		o.Relay.Discard(e.Session)
	}
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}
