package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podrec/backend/internal/models"
)

// ErrParticipantNotFound is returned when a chunk references a participant
// that does not exist.
var ErrParticipantNotFound = errors.New("participant not found")

// Repository handles chunk and final-recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertChunk inserts a chunk row, or overwrites the existing row for the same
// (participant_id, chunk_number). Last write wins; no duplicate rows.
func (r *Repository) UpsertChunk(ctx context.Context, ch *models.Chunk) error {
	const q = `INSERT INTO recording_chunks (id, participant_id, chunk_number, blob_key, byte_size, duration_ms)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (participant_id, chunk_number)
		DO UPDATE SET blob_key = EXCLUDED.blob_key, byte_size = EXCLUDED.byte_size,
			duration_ms = EXCLUDED.duration_ms, uploaded_at = NOW()
		RETURNING id, uploaded_at`
	err := r.pool.QueryRow(ctx, q, ch.ParticipantID, ch.ChunkNumber, ch.BlobKey, ch.ByteSize, ch.DurationMs).
		Scan(&ch.ID, &ch.UploadedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return ErrParticipantNotFound
	}
	return err
}

// ListChunksByParticipant returns a participant's chunks ordered by chunk number ascending.
func (r *Repository) ListChunksByParticipant(ctx context.Context, participantID uuid.UUID) ([]models.Chunk, error) {
	const q = `SELECT id, participant_id, chunk_number, blob_key, byte_size, duration_ms, uploaded_at
		FROM recording_chunks WHERE participant_id = $1 ORDER BY chunk_number ASC`
	rows, err := r.pool.Query(ctx, q, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.ParticipantID, &ch.ChunkNumber, &ch.BlobKey, &ch.ByteSize, &ch.DurationMs, &ch.UploadedAt); err != nil {
			return nil, err
		}
		list = append(list, ch)
	}
	return list, rows.Err()
}

// CreateFinalRecording inserts a final recording row.
func (r *Repository) CreateFinalRecording(ctx context.Context, rec *models.FinalRecording) error {
	const q = `INSERT INTO final_recordings (id, session_id, participant_id, blob_key, byte_size, duration_ms, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, completed_at`
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.ParticipantID, rec.BlobKey, rec.ByteSize, rec.DurationMs, rec.Status).
		Scan(&rec.ID, &rec.CompletedAt)
}

// ListFinalBySession returns all final recordings for a session.
func (r *Repository) ListFinalBySession(ctx context.Context, sessionID uuid.UUID) ([]models.FinalRecording, error) {
	const q = `SELECT id, session_id, participant_id, blob_key, byte_size, duration_ms, status, completed_at
		FROM final_recordings WHERE session_id = $1 ORDER BY completed_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.FinalRecording
	for rows.Next() {
		var rec models.FinalRecording
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ParticipantID, &rec.BlobKey, &rec.ByteSize, &rec.DurationMs, &rec.Status, &rec.CompletedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
