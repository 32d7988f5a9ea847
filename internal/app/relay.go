package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/Arena/internal/core"
	"github.com/dkeye/Arena/internal/domain"
	"github.com/rs/zerolog/log"
)

type liveSession struct {
	id       domain.SessionID
	capacity int
	members  map[domain.PlayerID]core.OutboundSink
	order    []domain.PlayerID
}

func (s *liveSession) remove(pid domain.PlayerID) {
	delete(s.members, pid)
	for i, p := range s.order {
		if p == pid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Relay owns the membership set of every live session.
// The lock guards only map mutation; frames are sent after it is released.
type Relay struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*liveSession
	players  map[domain.PlayerID]domain.SessionID
	fanout   Fanout
}

func NewRelay(fanout Fanout) *Relay {
	return &Relay{
		sessions: make(map[domain.SessionID]*liveSession),
		players:  make(map[domain.PlayerID]domain.SessionID),
		fanout:   fanout,
	}
}

// Open reserves sid so that players promoted out of matchmaking can attach.
func (r *Relay) Open(sid domain.SessionID, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		return
	}
	r.sessions[sid] = &liveSession{
		id:       sid,
		capacity: capacity,
		members:  make(map[domain.PlayerID]core.OutboundSink, capacity),
	}
	log.Debug().Str("module", "app.relay").Str("session", string(sid)).Int("capacity", capacity).Msg("session reserved")
}

// Attach adds pid to sid and returns the peers that were already there, in join order.
// When greet is non-nil its frame is queued on out before any peer can broadcast to it.
func (r *Relay) Attach(sid domain.SessionID, pid domain.PlayerID, out core.OutboundSink, greet func(peers []domain.PlayerID) core.Frame) ([]domain.PlayerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if _, ok := r.players[pid]; ok {
		return nil, domain.ErrAlreadyAttached
	}
	if len(s.members) >= s.capacity {
		return nil, domain.ErrSessionFull
	}

	peers := make([]domain.PlayerID, len(s.order))
	copy(peers, s.order)

	if greet != nil {
		if frame := greet(peers); frame != nil {
			if err := out.TrySend(frame); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
		}
	}

	s.members[pid] = out
	s.order = append(s.order, pid)
	r.players[pid] = sid
	log.Info().Str("module", "app.relay").Str("session", string(sid)).Str("player", string(pid)).Int("members", len(s.members)).Msg("player attached")
	return peers, nil
}

// Detach removes pid from sid, deleting the session once it is empty.
// Detaching a non-member is a no-op.
func (r *Relay) Detach(sid domain.SessionID, pid domain.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if _, ok := s.members[pid]; !ok {
		return false
	}
	s.remove(pid)
	delete(r.players, pid)
	log.Info().Str("module", "app.relay").Str("session", string(sid)).Str("player", string(pid)).Msg("player detached")
	if len(s.members) == 0 {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.relay").Str("session", string(sid)).Msg("session closed")
	}
	return true
}

// Discard drops a reserved session that has no members.
func (r *Relay) Discard(sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok || len(s.members) > 0 {
		return false
	}
	delete(r.sessions, sid)
	log.Debug().Str("module", "app.relay").Str("session", string(sid)).Msg("reservation discarded")
	return true
}

// Broadcast delivers frame to the members of sid selected by the fanout policy.
// Members whose outbound queue is already closed are skipped and reported as dropped.
func (r *Relay) Broadcast(sid domain.SessionID, from domain.PlayerID, frame core.Frame) (core.PublishResult, error) {
	type target struct {
		pid  domain.PlayerID
		sink core.OutboundSink
	}

	r.mu.Lock()
	s, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return core.PublishResult{}, domain.ErrSessionNotFound
	}
	if _, ok := s.members[from]; !ok {
		r.mu.Unlock()
		return core.PublishResult{}, domain.ErrNotAttached
	}
	targets := make([]target, 0, len(s.order))
	for _, pid := range s.order {
		if r.fanout.Delivers(from, pid) {
			targets = append(targets, target{pid: pid, sink: s.members[pid]})
		}
	}
	r.mu.Unlock()

	res := core.PublishResult{}
	for _, t := range targets {
		if err := t.sink.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, t.pid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.relay").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res, nil
}

// Announce delivers a server-originated frame to every member of sid except about.
func (r *Relay) Announce(sid domain.SessionID, about domain.PlayerID, frame core.Frame) int {
	r.mu.Lock()
	s, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	sinks := make([]core.OutboundSink, 0, len(s.members))
	for _, pid := range s.order {
		if pid != about {
			sinks = append(sinks, s.members[pid])
		}
	}
	r.mu.Unlock()

	sent := 0
	for _, sink := range sinks {
		if sink.TrySend(frame) == nil {
			sent++
		}
	}
	return sent
}

// Members returns the attached players of sid in join order.
func (r *Relay) Members(sid domain.SessionID) ([]domain.PlayerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	out := make([]domain.PlayerID, len(s.order))
	copy(out, s.order)
	return out, true
}

func (r *Relay) Info(sid domain.SessionID) (domain.SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return domain.SessionInfo{}, false
	}
	players := make([]domain.PlayerID, len(s.order))
	copy(players, s.order)
	return domain.SessionInfo{ID: sid, Capacity: s.capacity, Players: players}, true
}

// IsMember reports whether pid is attached to any session.
func (r *Relay) IsMember(pid domain.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.players[pid]
	return ok
}

type RelayStats struct {
	Sessions int
	Players  int
}

func (r *Relay) Stats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RelayStats{Sessions: len(r.sessions), Players: len(r.players)}
}
