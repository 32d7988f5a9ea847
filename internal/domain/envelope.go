package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope types produced by the server. Any other type is relayed as-is.
const (
	TypeAttached   = "attached"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Envelope is the relayed message unit. Payload is never interpreted by the relay.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope checks that data is a single JSON object with a non-empty type.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if dec.More() {
		return Envelope{}, fmt.Errorf("%w: trailing data", ErrInvalidMessage)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return env, nil
}

// Reserved reports whether typ may only be produced by the server.
func Reserved(typ string) bool {
	switch typ {
	case TypeAttached, TypePeerJoined, TypePeerLeft, TypeError, TypePong:
		return true
	}
	return false
}

// EncodeEnvelope builds a server-originated envelope.
func EncodeEnvelope(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

type AttachedPayload struct {
	SessionID SessionID  `json:"session_id"`
	PlayerID  PlayerID   `json:"player_id"`
	Peers     []PlayerID `json:"peers"`
}

type PeerPayload struct {
	PlayerID PlayerID `json:"player_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
