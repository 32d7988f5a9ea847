package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/domain"
)

const (
	DefaultCapacity           = 2
	DefaultMatchmakingTimeout = 60 * time.Second
)

// MembershipChecker reports live session membership. Implemented by Relay.
type MembershipChecker interface {
	IsMember(pid domain.PlayerID) bool
}

type MatchmakingConfig struct {
	Capacity int
	Timeout  time.Duration
}

// Expiry describes a waiting entry evicted by the matchmaking timeout.
type Expiry struct {
	Session domain.SessionID
	Player  domain.PlayerID
	// Abandoned is set when the match lost its last waiting or attached player.
	Abandoned bool
}

type match struct {
	id       domain.SessionID
	capacity int
	players  []domain.PlayerID
	assets   map[domain.PlayerID][]domain.AssetID
	waiting  int
	attached int
	ready    chan struct{}
	isReady  bool
}

func (mt *match) has(pid domain.PlayerID) bool {
	for _, p := range mt.players {
		if p == pid {
			return true
		}
	}
	return false
}

func (mt *match) assetList() []domain.AssetID {
	var out []domain.AssetID
	for _, pid := range mt.players {
		out = append(out, mt.assets[pid]...)
	}
	return out
}

type waitingEntry struct {
	player  domain.PlayerID
	match   *match
	ticket  string
	expired chan struct{}
}

// Matchmaking pairs players into sessions before any connection exists.
// Waiting entries expire after cfg.Timeout unless promoted into the relay.
// The registry never calls into its timer cache while holding mu.
type Matchmaking struct {
	mu       sync.Mutex
	cfg      MatchmakingConfig
	matches  map[domain.SessionID]*match
	waiting  map[domain.PlayerID]*waitingEntry
	members  MembershipChecker
	onExpire func(Expiry)

	timers   *ttlcache.Cache[string, *waitingEntry]
	stopOnce sync.Once
}

func NewMatchmaking(cfg MatchmakingConfig, members MembershipChecker) *Matchmaking {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMatchmakingTimeout
	}
	m := &Matchmaking{
		cfg:     cfg,
		matches: make(map[domain.SessionID]*match),
		waiting: make(map[domain.PlayerID]*waitingEntry),
		members: members,
		timers: ttlcache.New(
			ttlcache.WithTTL[string, *waitingEntry](cfg.Timeout),
		),
	}
	m.timers.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *waitingEntry]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		m.expire(item.Value())
	})
	go m.timers.Start()
	return m
}

func (m *Matchmaking) Capacity() int { return m.cfg.Capacity }

// OnExpire registers the eviction hook. It runs outside the registry lock.
func (m *Matchmaking) OnExpire(fn func(Expiry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// Create mints a session and registers pid as its first waiting player.
func (m *Matchmaking) Create(pid domain.PlayerID, assets []domain.AssetID) (domain.SessionID, error) {
	if err := validateRequest(pid, assets); err != nil {
		return "", err
	}

	m.mu.Lock()
	if err := m.checkFreeLocked(pid); err != nil {
		m.mu.Unlock()
		return "", err
	}
	mt := &match{
		id:       domain.NewSessionID(),
		capacity: m.cfg.Capacity,
		assets:   make(map[domain.PlayerID][]domain.AssetID),
		ready:    make(chan struct{}),
	}
	m.matches[mt.id] = mt
	e := m.commitLocked(mt, pid, assets)
	m.mu.Unlock()

	m.timers.Set(e.ticket, e, ttlcache.DefaultTTL)
	log.Info().Str("module", "app.matchmaking").Str("session", string(mt.id)).Str("player", string(pid)).Msg("match created")
	return mt.id, nil
}

// Join registers pid as a waiting player of sid.
func (m *Matchmaking) Join(pid domain.PlayerID, sid domain.SessionID, assets []domain.AssetID) error {
	if err := validateRequest(pid, assets); err != nil {
		return err
	}

	m.mu.Lock()
	mt, ok := m.matches[sid]
	if !ok {
		m.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if err := m.checkFreeLocked(pid); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(mt.players) >= mt.capacity {
		m.mu.Unlock()
		return domain.ErrSessionFull
	}
	e := m.commitLocked(mt, pid, assets)
	m.mu.Unlock()

	m.timers.Set(e.ticket, e, ttlcache.DefaultTTL)
	log.Info().Str("module", "app.matchmaking").Str("session", string(sid)).Str("player", string(pid)).Msg("match joined")
	return nil
}

// Await blocks until sid is fully matched, pid's waiting entry expires, or ctx ends.
func (m *Matchmaking) Await(ctx context.Context, sid domain.SessionID, pid domain.PlayerID) ([]domain.PlayerID, error) {
	m.mu.Lock()
	var (
		mt      *match
		expired chan struct{}
	)
	if e, ok := m.waiting[pid]; ok && e.match.id == sid {
		mt, expired = e.match, e.expired
	} else if cand, ok := m.matches[sid]; ok && cand.has(pid) {
		mt = cand
	}
	if mt == nil {
		m.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	ready := mt.ready
	m.mu.Unlock()

	select {
	case <-ready:
		m.mu.Lock()
		defer m.mu.Unlock()
		out := make([]domain.PlayerID, len(mt.players))
		copy(out, mt.players)
		return out, nil
	case <-expired:
		return nil, domain.ErrMatchmakingTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Promote moves pid's waiting entry for sid into live membership.
// attach runs under the registry lock, so pid is never observed both waiting and attached.
// It returns every asset committed to the match so far.
func (m *Matchmaking) Promote(sid domain.SessionID, pid domain.PlayerID, attach func() error) ([]domain.AssetID, error) {
	m.mu.Lock()
	e, ok := m.waiting[pid]
	if !ok || e.match.id != sid {
		m.mu.Unlock()
		if m.members != nil && m.members.IsMember(pid) {
			return nil, domain.ErrAlreadyAttached
		}
		return nil, domain.ErrSessionNotFound
	}

	if err := attach(); err != nil {
		dropped := false
		if errors.Is(err, domain.ErrSessionNotFound) {
			m.dropLocked(e)
			close(e.expired)
			dropped = true
		}
		m.mu.Unlock()
		if dropped {
			m.timers.Delete(e.ticket)
		}
		return nil, err
	}

	mt := e.match
	delete(m.waiting, pid)
	mt.waiting--
	mt.attached++
	assets := mt.assetList()
	m.mu.Unlock()

	m.timers.Delete(e.ticket)
	log.Info().Str("module", "app.matchmaking").Str("session", string(sid)).Str("player", string(pid)).Msg("waiting entry promoted")
	return assets, nil
}

// Release records that an attached player of sid has left. The match record is
// dropped once nobody is waiting for or attached to it.
func (m *Matchmaking) Release(sid domain.SessionID, pid domain.PlayerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[sid]
	if !ok {
		return
	}
	if mt.attached > 0 {
		mt.attached--
	}
	if mt.waiting == 0 && mt.attached == 0 {
		delete(m.matches, sid)
		log.Debug().Str("module", "app.matchmaking").Str("session", string(sid)).Str("player", string(pid)).Msg("match released")
	}
}

// Exists reports whether sid still has a match record.
func (m *Matchmaking) Exists(sid domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.matches[sid]
	return ok
}

// IsWaiting reports whether pid holds a waiting entry.
func (m *Matchmaking) IsWaiting(pid domain.PlayerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.waiting[pid]
	return ok
}

type MatchmakingStats struct {
	Matches int
	Waiting int
}

func (m *Matchmaking) Stats() MatchmakingStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MatchmakingStats{Matches: len(m.matches), Waiting: len(m.waiting)}
}

// Close stops the expiry timers. Pending entries stay in place.
func (m *Matchmaking) Close() {
	m.stopOnce.Do(m.timers.Stop)
}

func (m *Matchmaking) expire(e *waitingEntry) {
	m.mu.Lock()
	if m.waiting[e.player] != e {
		m.mu.Unlock()
		return
	}
	abandoned := m.dropLocked(e)
	close(e.expired)
	hook := m.onExpire
	m.mu.Unlock()

	log.Info().Str("module", "app.matchmaking").Str("session", string(e.match.id)).Str("player", string(e.player)).Bool("abandoned", abandoned).Msg("waiting entry expired")
	if hook != nil {
		hook(Expiry{Session: e.match.id, Player: e.player, Abandoned: abandoned})
	}
}

func (m *Matchmaking) checkFreeLocked(pid domain.PlayerID) error {
	if _, ok := m.waiting[pid]; ok {
		return domain.ErrDuplicatePlayer
	}
	if m.members != nil && m.members.IsMember(pid) {
		return domain.ErrDuplicatePlayer
	}
	return nil
}

func (m *Matchmaking) commitLocked(mt *match, pid domain.PlayerID, assets []domain.AssetID) *waitingEntry {
	e := &waitingEntry{
		player:  pid,
		match:   mt,
		ticket:  uuid.NewString(),
		expired: make(chan struct{}),
	}
	mt.players = append(mt.players, pid)
	if len(assets) > 0 {
		mt.assets[pid] = append([]domain.AssetID(nil), assets...)
	}
	mt.waiting++
	m.waiting[pid] = e
	if len(mt.players) >= mt.capacity && !mt.isReady {
		mt.isReady = true
		close(mt.ready)
	}
	return e
}

// dropLocked removes e and frees its seat. It reports whether the match went with it.
func (m *Matchmaking) dropLocked(e *waitingEntry) bool {
	mt := e.match
	delete(m.waiting, e.player)
	delete(mt.assets, e.player)
	for i, p := range mt.players {
		if p == e.player {
			mt.players = append(mt.players[:i], mt.players[i+1:]...)
			break
		}
	}
	mt.waiting--
	if mt.waiting == 0 && mt.attached == 0 {
		delete(m.matches, mt.id)
		return true
	}
	return false
}

func validateRequest(pid domain.PlayerID, assets []domain.AssetID) error {
	if err := pid.Validate(); err != nil {
		return err
	}
	return domain.ValidateAssets(assets)
}
