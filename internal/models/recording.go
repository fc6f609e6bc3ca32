package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatusCompleted is the status of a successfully assembled recording.
const RecordingStatusCompleted = "completed"

// FinalRecording is the assembled, ordered concatenation of one participant's chunks.
type FinalRecording struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	BlobKey       string    `json:"blob_key"`
	ByteSize      int64     `json:"byte_size"`
	DurationMs    int       `json:"duration_ms"`
	Status        string    `json:"status"`
	CompletedAt   time.Time `json:"completed_at"`
}
