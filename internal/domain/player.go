// Package domain contains entity without logic, just meta-data
package domain

import (
	"github.com/google/uuid"
)

const (
	MaxPlayerIDLen = 64
	MaxAssetIDLen  = 64
)

type (
	PlayerID  string
	SessionID string
	AssetID   string
)

// NewSessionID mints an unguessable session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (p PlayerID) Validate() error {
	if len(p) == 0 {
		return ErrPlayerIDEmpty
	}
	if len(p) > MaxPlayerIDLen {
		return ErrPlayerIDTooLong
	}
	return nil
}

func ValidateAssets(ids []AssetID) error {
	for _, id := range ids {
		if len(id) == 0 || len(id) > MaxAssetIDLen {
			return ErrInvalidAssetID
		}
	}
	return nil
}
