package app

import "github.com/dkeye/Arena/internal/domain"

// Fanout decides whether a broadcast is echoed back to its sender.
type Fanout int

const (
	ExcludeSender Fanout = iota
	EchoToSender
)

func (f Fanout) String() string {
	if f == EchoToSender {
		return "echo"
	}
	return "exclude"
}

// Delivers reports whether a frame from sender goes to member.
func (f Fanout) Delivers(sender, member domain.PlayerID) bool {
	return f == EchoToSender || sender != member
}
