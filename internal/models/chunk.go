package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one time-sliced piece of a participant's raw capture.
// (participant_id, chunk_number) is unique; re-uploads overwrite (last write wins).
type Chunk struct {
	ID            uuid.UUID `json:"id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	ChunkNumber   int       `json:"chunk_number"`
	BlobKey       string    `json:"blob_key"`
	ByteSize      int64     `json:"byte_size"`
	DurationMs    int       `json:"duration_ms"`
	UploadedAt    time.Time `json:"uploaded_at"`
}
