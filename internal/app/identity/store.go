package identity

import (
	"errors"
	"sync"

	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownParticipant = errors.New("unknown participant")

// Store keeps participant identities. Identities are never deleted.
type Store interface {
	// GetOrCreate returns the existing identity for p.ID or stores p.
	// The display name of an existing identity is left untouched.
	GetOrCreate(p domain.Participant) (domain.Participant, bool, error)
	Get(id domain.ParticipantID) (domain.Participant, error)
	SetAvatar(id domain.ParticipantID, avatar domain.AvatarID) error
	Close() error
}

type MemoryStore struct {
	mu    sync.RWMutex
	users map[domain.ParticipantID]*domain.Participant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[domain.ParticipantID]*domain.Participant)}
}

func (s *MemoryStore) GetOrCreate(p domain.Participant) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[p.ID]; ok {
		return *u, false, nil
	}
	u := p
	s.users[p.ID] = &u
	log.Info().Str("module", "app.identity").Str("participant", string(p.ID)).Msg("created new participant")
	return u, true, nil
}

func (s *MemoryStore) Get(id domain.ParticipantID) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.Participant{}, ErrUnknownParticipant
	}
	return *u, nil
}

func (s *MemoryStore) SetAvatar(id domain.ParticipantID, avatar domain.AvatarID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownParticipant
	}
	u.SetAvatar(avatar)
	log.Info().Str("module", "app.identity").Str("participant", string(id)).Int("avatar", int(avatar)).Msg("updated avatar")
	return nil
}

func (s *MemoryStore) Close() error { return nil }
