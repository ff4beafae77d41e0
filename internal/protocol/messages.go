// Package protocol defines the JSON messages exchanged over the signaling WebSocket.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

// client -> server
const (
	TypeJoin   Type = "join"
	TypeMove   Type = "move"
	TypeSignal Type = "signal"
	TypePing   Type = "ping"
)

// server -> client
const (
	TypeWelcome Type = "welcome"
	TypeRoster  Type = "roster"
	TypeError   Type = "error"
	TypeEvicted Type = "evicted"
	TypePong    Type = "pong"
)

// Error codes carried by Error messages.
const (
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeUnknownParticipant = "unknown_participant"
	CodeBadPayload         = "bad_payload"
	CodeUnknownType        = "unknown_type"
	CodeRateLimited        = "rate_limited"
)

type Envelope struct {
	Type Type `json:"type"`
}

type Join struct {
	Type     Type            `json:"type"`
	Token    string          `json:"token,omitempty"`
	AvatarID domain.AvatarID `json:"avatarId"`
	Position domain.Position `json:"position"`
}

type Move struct {
	Type     Type            `json:"type"`
	Position domain.Position `json:"position"`
}

// Signal is a handshake fragment: a session description or one ICE candidate.
// The server never decodes it; only clients do.
type Signal struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// SignalTo is sent by a client; Signal stays raw so the relay forwards bytes untouched.
type SignalTo struct {
	Type   Type            `json:"type"`
	To     core.ConnID     `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// SignalFrom is delivered to the destination client.
type SignalFrom struct {
	Type   Type            `json:"type"`
	From   core.ConnID     `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type Welcome struct {
	Type         Type        `json:"type"`
	ConnectionID core.ConnID `json:"connectionId"`
	GridSize     int         `json:"gridSize,omitempty"`
	Threshold    int         `json:"threshold,omitempty"`
}

type Roster struct {
	Type  Type               `json:"type"`
	Users []core.RosterEntry `json:"users"`
}

type Error struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

func NewError(code string) Error { return Error{Type: TypeError, Error: code} }

// Marshal encodes v into a frame ready for SignalConnection.TrySend.
func Marshal(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
