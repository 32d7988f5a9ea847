package domain

// SessionInfo is the status of a live session as served by GET /api/matching/:session_id.
// Players lists attached players only.
type SessionInfo struct {
	ID       SessionID  `json:"session_id"`
	Capacity int        `json:"capacity"`
	Players  []PlayerID `json:"players"`
}

// Full reports whether every seat of the session is taken.
func (s SessionInfo) Full() bool {
	return len(s.Players) >= s.Capacity
}
