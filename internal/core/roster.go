package core

import (
	"github.com/dkeye/gridvoice/internal/domain"
)

// PublishResult reports delivery stats/backpressure of one broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// RosterEntry is the read-only view of one joined connection, as broadcast to clients.
type RosterEntry struct {
	ConnectionID ConnID               `json:"connectionId"`
	Identifier   domain.ParticipantID `json:"identifier"`
	DisplayName  string               `json:"displayName"`
	AvatarID     domain.AvatarID      `json:"avatarId"`
	Position     domain.Position      `json:"position"`
}
