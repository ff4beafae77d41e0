package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps identities across restarts. Room state is never written here.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps GetOrCreate race free without explicit transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS participants (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar_id    INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create participants table: %w", err)
	}
	log.Info().Str("module", "app.identity").Str("path", path).Msg("sqlite store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreate(p domain.Participant) (domain.Participant, bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO participants (id, display_name, avatar_id) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		string(p.ID), p.DisplayName, int(p.AvatarID),
	)
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("insert participant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		log.Info().Str("module", "app.identity").Str("participant", string(p.ID)).Msg("created new participant")
		return p, true, nil
	}
	u, err := s.Get(p.ID)
	return u, false, err
}

func (s *SQLiteStore) Get(id domain.ParticipantID) (domain.Participant, error) {
	var (
		u      domain.Participant
		raw    string
		avatar int
	)
	err := s.db.QueryRow(
		`SELECT id, display_name, avatar_id FROM participants WHERE id = ?`, string(id),
	).Scan(&raw, &u.DisplayName, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, ErrUnknownParticipant
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	u.ID = domain.ParticipantID(raw)
	u.AvatarID = domain.AvatarID(avatar)
	return u, nil
}

func (s *SQLiteStore) SetAvatar(id domain.ParticipantID, avatar domain.AvatarID) error {
	res, err := s.db.Exec(`UPDATE participants SET avatar_id = ? WHERE id = ?`, int(avatar), string(id))
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownParticipant
	}
	log.Info().Str("module", "app.identity").Str("participant", string(id)).Int("avatar", int(avatar)).Msg("updated avatar")
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
