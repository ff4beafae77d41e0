package core

import "github.com/dkeye/gridvoice/internal/domain"

// ConnID is the server-assigned id of one live transport session.
// It is distinct from domain.ParticipantID: a reconnect gets a new ConnID.
type ConnID string

// SessionValidator resolves a bearer token to a participant identity.
type SessionValidator interface {
	Validate(token string) (domain.Participant, error)
	SetAvatar(id domain.ParticipantID, avatar domain.AvatarID) error
}
