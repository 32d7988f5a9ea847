package core

import (
	"context"
	"errors"

	"github.com/dkeye/Arena/internal/domain"
)

// Frame is a raw encoded envelope.
type Frame []byte

var ErrOutboundClosed = errors.New("outbound closed")

// OutboundSink is the write side of one connection's outbound queue.
// Owned by the connection handler; registries only enqueue into it.
type OutboundSink interface {
	TrySend(Frame) error
}

// PublishResult reports delivery stats to the orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.PlayerID
}

// AssetStore is the external asset collaborator consulted once a session fills up.
type AssetStore interface {
	MarkInUse(ctx context.Context, sid domain.SessionID, ids []domain.AssetID) error
	ListUnused(ctx context.Context) ([]domain.Asset, error)
}
