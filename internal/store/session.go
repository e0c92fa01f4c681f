package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/chainer/internal/ir"
)

// ErrUnknownSession is returned for a session id with no row.
var ErrUnknownSession = errors.New("unknown session")

// SessionInfo describes one journaled session.
type SessionInfo struct {
	ID            string
	Program       string
	EngineVersion string
	FormatVersion string
	Ops           int
	LastSeq       int64
}

// NewSessionID returns a time-ordered session id (UUIDv7).
func NewSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	return id.String(), nil
}

// CreateSession records a session and the program its engine runs.
// Creating an existing session is a no-op.
func (s *Store) CreateSession(ctx context.Context, id, program string) error {
	if id == "" {
		return fmt.Errorf("create session: id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, program, engine_version, format_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, program, ir.EngineVersion, ir.FormatVersion)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Session returns one session with its op count.
func (s *Store) Session(ctx context.Context, id string) (SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.program, s.engine_version, s.format_version,
		       COUNT(o.id), COALESCE(MAX(o.seq), 0)
		FROM sessions s
		LEFT JOIN ops o ON o.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id
	`, id)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	return info, err
}

// Sessions lists every session ordered by id. UUIDv7 ids sort by creation.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.program, s.engine_version, s.format_version,
		       COUNT(o.id), COALESCE(MAX(o.seq), 0)
		FROM sessions s
		LEFT JOIN ops o ON o.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionInfo, error) {
	var info SessionInfo
	err := row.Scan(&info.ID, &info.Program, &info.EngineVersion, &info.FormatVersion, &info.Ops, &info.LastSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionInfo{}, err
		}
		return SessionInfo{}, fmt.Errorf("scan session: %w", err)
	}
	return info, nil
}
