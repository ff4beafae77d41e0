// Package identity is the identity provider and session validator: it issues
// signed session tokens on login and resolves them back to participants.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store Store, secret string, ttl time.Duration) *Service {
	return &Service{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Login registers the participant on first use and issues a session token.
func (s *Service) Login(identifier, displayName string) (string, domain.Participant, error) {
	p, err := domain.NewParticipant(identifier, displayName)
	if err != nil {
		return "", domain.Participant{}, err
	}
	u, _, err := s.store.GetOrCreate(*p)
	if err != nil {
		return "", domain.Participant{}, err
	}
	token, err := s.issue(p.ID, p.DisplayName)
	if err != nil {
		return "", domain.Participant{}, err
	}
	return token, u, nil
}

func (s *Service) issue(id domain.ParticipantID, name string) (string, error) {
	now := s.now()
	c := claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate resolves a token to its participant. It is called on every
// hub-facing state change, so expiry is checked each time.
func (s *Service) Validate(token string) (domain.Participant, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Participant{}, ErrTokenExpired
	case err != nil:
		return domain.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case c.Subject == "":
		return domain.Participant{}, ErrInvalidToken
	}
	return s.store.Get(domain.ParticipantID(c.Subject))
}

// SetAvatarByToken records avatar selection for the participant behind token.
func (s *Service) SetAvatarByToken(token string, avatar domain.AvatarID) error {
	p, err := s.Validate(token)
	if err != nil {
		return err
	}
	return s.store.SetAvatar(p.ID, avatar)
}

func (s *Service) SetAvatar(id domain.ParticipantID, avatar domain.AvatarID) error {
	return s.store.SetAvatar(id, avatar)
}
