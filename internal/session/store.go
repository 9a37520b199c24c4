package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codelake/codelake/internal/knowledge"
)

// Store persists sessions and turns in PostgreSQL. It backs the
// in-process Memory: appends write through, restarts reload from here.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     knowledge.DBTX
	logger *slog.Logger
}

// NewStore creates a Store bound to the given connection.
//
//	store := session.NewStore(pool, logger)
func NewStore(db knowledge.DBTX, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateSession creates a new conversation session.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	id := uuid.New()
	var sess Session
	err := s.db.QueryRow(ctx, `
INSERT INTO sessions (id, title)
VALUES ($1, $2)
RETURNING id, title, created_at, updated_at`,
		id, title).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
SELECT id, title, created_at, updated_at
FROM sessions WHERE id = $1`,
		sessionID).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessions lists sessions ordered by updated_at descending.
func (s *Store) ListSessions(ctx context.Context, limit, offset int32) ([]*Session, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, title, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// DeleteSession deletes a session and all its turns (CASCADE).
func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.logger.Debug("deleted session", "id", sessionID)
	return nil
}

// AppendTurn persists one turn, assigning the next sequence number.
// The session row is created on first append when it does not exist
// yet: session IDs are minted by the pipeline, not only via
// CreateSession. The UNIQUE(session_id, sequence_number) constraint
// rejects racing writers; callers serialize per-session appends
// through Memory.
func (s *Store) AppendTurn(ctx context.Context, turn Turn) (*Turn, error) {
	planJSON, err := json.Marshal(turn.PlanSteps)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan steps: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
INSERT INTO sessions (id) VALUES ($1)
ON CONFLICT (id) DO NOTHING`, turn.SessionID); err != nil {
		return nil, fmt.Errorf("ensuring session %s: %w", turn.SessionID, err)
	}

	turn.ID = uuid.New()
	err = s.db.QueryRow(ctx, `
INSERT INTO turns (id, session_id, request, plan, code, explanation, complete, sequence_number)
VALUES ($1, $2, $3, $4, $5, $6, $7,
        (SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM turns WHERE session_id = $2))
RETURNING sequence_number, created_at`,
		turn.ID, turn.SessionID, turn.Request, planJSON,
		turn.Code, turn.Explanation, turn.Complete).
		Scan(&turn.SequenceNumber, &turn.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("session %s: %w", turn.SessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("appending turn: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, turn.SessionID); err != nil {
		s.logger.Warn("failed to touch session", "session_id", turn.SessionID, "error", err)
	}

	s.logger.Debug("appended turn",
		"session_id", turn.SessionID, "sequence", turn.SequenceNumber)
	return &turn, nil
}

// LoadRecent returns up to n most recent turns in chronological order.
func (s *Store) LoadRecent(ctx context.Context, sessionID uuid.UUID, n int32) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, session_id, request, plan, code, explanation, complete, sequence_number, created_at
FROM (
    SELECT * FROM turns
    WHERE session_id = $1
    ORDER BY sequence_number DESC
    LIMIT $2
) recent
ORDER BY sequence_number ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var planJSON []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Request, &planJSON,
			&t.Code, &t.Explanation, &t.Complete, &t.SequenceNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		if err := json.Unmarshal(planJSON, &t.PlanSteps); err != nil {
			s.logger.Warn("failed to parse turn plan", "turn_id", t.ID, "error", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

// isForeignKeyViolation reports a 23503 postgres error.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
