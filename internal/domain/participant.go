// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxParticipantIDLen = 254
	MaxDisplayNameLen   = 36
)

var (
	ErrIdentifierEmpty   = errors.New("identifier empty")
	ErrIdentifierTooLong = errors.New("identifier too long")
	ErrDisplayNameEmpty  = errors.New("display name empty")
	ErrDisplayNameLong   = errors.New("display name too long")
)

// ParticipantID is the stable identity key (email-equivalent).
type ParticipantID string

type Participant struct {
	ID          ParticipantID `json:"email"`
	DisplayName string        `json:"name"`
	AvatarID    AvatarID      `json:"avatar"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(identifier, displayName string) (*Participant, error) {
	identifier = strings.TrimSpace(identifier)
	displayName = strings.TrimSpace(displayName)
	if identifier == "" {
		return nil, ErrIdentifierEmpty
	}
	if len(identifier) > MaxParticipantIDLen {
		return nil, ErrIdentifierTooLong
	}
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameLong
	}
	return &Participant{ID: ParticipantID(identifier), DisplayName: displayName}, nil
}

func (p *Participant) SetAvatar(id AvatarID) {
	p.AvatarID = id
}
