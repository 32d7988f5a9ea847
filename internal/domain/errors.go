package domain

import "errors"

var (
	ErrDuplicatePlayer     = errors.New("player already waiting or attached")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionFull         = errors.New("session full")
	ErrAlreadyAttached     = errors.New("player already attached")
	ErrMatchmakingTimedOut = errors.New("matchmaking timed out")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrTransport           = errors.New("transport error")

	ErrNotAttached     = errors.New("player not attached to session")
	ErrRateLimited     = errors.New("rate limited")
	ErrPlayerIDEmpty   = errors.New("player id empty")
	ErrPlayerIDTooLong = errors.New("player id too long")
	ErrInvalidAssetID  = errors.New("invalid asset id")
	ErrAssetNotFound   = errors.New("asset not found")
)

// Wire codes sent to clients in error envelopes and HTTP bodies.
const (
	CodeDuplicatePlayer     = "DuplicatePlayer"
	CodeSessionNotFound     = "SessionNotFound"
	CodeSessionFull         = "SessionFull"
	CodeAlreadyAttached     = "AlreadyAttached"
	CodeMatchmakingTimedOut = "MatchmakingTimedOut"
	CodeInvalidMessage      = "InvalidMessage"
	CodeTransportError      = "TransportError"
	CodeNotAttached         = "NotAttached"
	CodeRateLimited         = "RateLimited"
	CodeInvalidRequest      = "InvalidRequest"
	CodeInternal            = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrDuplicatePlayer, CodeDuplicatePlayer},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionFull, CodeSessionFull},
	{ErrAlreadyAttached, CodeAlreadyAttached},
	{ErrMatchmakingTimedOut, CodeMatchmakingTimedOut},
	{ErrInvalidMessage, CodeInvalidMessage},
	{ErrTransport, CodeTransportError},
	{ErrNotAttached, CodeNotAttached},
	{ErrRateLimited, CodeRateLimited},
	{ErrPlayerIDEmpty, CodeInvalidRequest},
	{ErrPlayerIDTooLong, CodeInvalidRequest},
	{ErrInvalidAssetID, CodeInvalidRequest},
}

// Code maps err (possibly wrapped) to its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
