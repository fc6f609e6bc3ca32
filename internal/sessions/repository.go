package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podrec/backend/internal/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Repository handles session and participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a session and its host participant in one transaction.
// The host row carries display name "Host" and is_host = true.
func (r *Repository) Create(ctx context.Context, title string, hostID uuid.UUID) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var s models.Session
	const insertSession = `INSERT INTO sessions (id, title, host_id, status)
		VALUES (gen_random_uuid(), $1, $2, 'active')
		RETURNING id, title, host_id, status, created_at, ended_at`
	if err := tx.QueryRow(ctx, insertSession, title, hostID).
		Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.EndedAt); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	const insertHost = `INSERT INTO participants (id, session_id, display_name, user_id, is_host)
		VALUES (gen_random_uuid(), $1, 'Host', $2, TRUE)`
	if _, err := tx.Exec(ctx, insertHost, s.ID, hostID); err != nil {
		return nil, fmt.Errorf("insert host participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &s, nil
}

// GetByID returns a session with its participants, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SessionWithParticipants, error) {
	const q = `SELECT id, title, host_id, status, created_at, ended_at FROM sessions WHERE id = $1`
	var s models.SessionWithParticipants
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	participants, err := r.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Participants = participants
	return &s, nil
}

// ListParticipants returns all participants of a session.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	const q = `SELECT id, session_id, display_name, user_id, is_host, joined_at
		FROM participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.UserID, &p.IsHost, &p.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// AddParticipant inserts a participant. Fails with ErrNotFound when the
// session is missing. Joins to an ended session are allowed; callers may add
// that check externally.
func (r *Repository) AddParticipant(ctx context.Context, sessionID uuid.UUID, displayName string, userID *uuid.UUID, isHost bool) (*models.Participant, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	const q = `INSERT INTO participants (id, session_id, display_name, user_id, is_host)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, session_id, display_name, user_id, is_host, joined_at`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, sessionID, displayName, userID, isHost).
		Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.UserID, &p.IsHost, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update changes title and/or status. Nil pointers leave the column untouched.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, title, status *string) (*models.Session, error) {
	const q = `UPDATE sessions SET title = COALESCE($1, title), status = COALESCE($2, status)
		WHERE id = $3
		RETURNING id, title, host_id, status, created_at, ended_at`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, title, status, id).
		Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// End marks the session ended. The active->ended transition happens at most
// once; re-ending is a no-op that returns the already-ended session with
// ended = false, so callers enqueue exactly one assembly job per session.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (session *models.Session, ended bool, err error) {
	const q = `UPDATE sessions SET status = 'ended', ended_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING id, title, host_id, status, created_at, ended_at`
	var s models.Session
	err = r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.EndedAt)
	if err == nil {
		return &s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Already ended, or missing entirely.
	const sel = `SELECT id, title, host_id, status, created_at, ended_at FROM sessions WHERE id = $1`
	err = r.pool.QueryRow(ctx, sel, id).Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	return &s, false, nil
}
