package ws

import (
	"sync"
	"time"

	"github.com/dkeye/Arena/internal/domain"
)

// PlayerRateLimiter is a sliding-window limit on inbound envelopes per player.
// A nil limiter allows everything.
type PlayerRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PlayerID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewPlayerRateLimiter(limit int, interval time.Duration) *PlayerRateLimiter {
	return &PlayerRateLimiter{
		history:  make(map[domain.PlayerID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *PlayerRateLimiter) Allow(pid domain.PlayerID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[pid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[pid] = fresh
		return false
	}
	rl.history[pid] = append(fresh, now)
	return true
}

// Forget drops pid's history once its connection is gone.
func (rl *PlayerRateLimiter) Forget(pid domain.PlayerID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.history, pid)
	rl.mu.Unlock()
}
