package identity

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/gridvoice/internal/domain"
)

func TestLoginAndValidate(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)

	token, p, err := svc.Login("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if p.ID != "alice@example.com" || p.DisplayName != "Alice" {
		t.Fatalf("unexpected participant %+v", p)
	}

	got, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("validate resolved %q, want %q", got.ID, p.ID)
	}
}

func TestLoginKeepsExistingIdentity(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)
	if _, _, err := svc.Login("a@example.com", "First"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetAvatar("a@example.com", 3); err != nil {
		t.Fatal(err)
	}
	_, p, err := svc.Login("a@example.com", "Second")
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "First" || p.AvatarID != 3 {
		t.Fatalf("existing identity was overwritten: %+v", p)
	}
}

func TestValidateRejects(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)
	token, _, err := svc.Login("a@example.com", "A")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Validate("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token err = %v", err)
	}

	other := NewService(NewMemoryStore(), "other-secret", time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret err = %v", err)
	}

	expired := NewService(NewMemoryStore(), "secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := expired.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token err = %v", err)
	}

	// Valid signature but the store never saw this participant.
	fresh := NewService(NewMemoryStore(), "secret", time.Hour)
	if _, err := fresh.Validate(token); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("unknown participant err = %v", err)
	}
}

func TestSetAvatarByToken(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)
	token, _, err := svc.Login("a@example.com", "A")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetAvatarByToken(token, 2); err != nil {
		t.Fatalf("set avatar: %v", err)
	}
	p, err := svc.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if p.AvatarID != 2 {
		t.Fatalf("avatar = %d, want 2", p.AvatarID)
	}
	if err := svc.SetAvatarByToken("bad", 1); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bad token err = %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := domain.Participant{ID: "a@example.com", DisplayName: "A"}
	got, created, err := s.GetOrCreate(p)
	if err != nil || !created || got != p {
		t.Fatalf("first GetOrCreate = %+v %v %v", got, created, err)
	}
	got, created, err = s.GetOrCreate(domain.Participant{ID: "a@example.com", DisplayName: "B"})
	if err != nil || created || got.DisplayName != "A" {
		t.Fatalf("second GetOrCreate = %+v %v %v", got, created, err)
	}
	if err := s.SetAvatar("a@example.com", 4); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAvatar("nobody@example.com", 4); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("unknown SetAvatar err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err = s.Get("a@example.com")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.AvatarID != 4 {
		t.Fatalf("avatar not persisted: %+v", got)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("missing err = %v", err)
	}
}
