package recordings

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podrec/backend/internal/models"
	"github.com/podrec/backend/pkg/response"
	"github.com/podrec/backend/pkg/storage"
)

// FormFileChunk is the multipart field carrying the chunk payload.
const FormFileChunk = "video-chunk"

// Store is the persistence surface the recordings handler needs.
type Store interface {
	UpsertChunk(ctx context.Context, ch *models.Chunk) error
	ListFinalBySession(ctx context.Context, sessionID uuid.UUID) ([]models.FinalRecording, error)
}

// BlobStore is the blob storage surface the recordings handler needs.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// FinalRecordingResponse is a final recording plus its presigned download URL.
type FinalRecordingResponse struct {
	models.FinalRecording
	DownloadURL string `json:"download_url,omitempty"`
}

// Handler handles chunk upload and final-recording HTTP endpoints.
type Handler struct {
	store  Store
	blobs  BlobStore
	logger *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(store Store, blobs BlobStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, blobs: blobs, logger: logger}
}

// UploadChunk handles POST /api/sessions/:id/chunks. The payload goes to blob
// storage under a deterministic key first, then the chunk row is upserted;
// a crash in between leaves an orphaned blob the worker never sees.
func (h *Handler) UploadChunk(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}

	file, header, err := c.Request.FormFile(FormFileChunk)
	if err != nil {
		response.BadRequest(c, "no file uploaded")
		return
	}
	defer file.Close()

	participantIDStr := c.PostForm("participantId")
	chunkNumberStr := c.PostForm("chunkNumber")
	durationMsStr := c.PostForm("durationMs")
	if participantIDStr == "" || chunkNumberStr == "" || durationMsStr == "" {
		response.BadRequest(c, "missing required chunk metadata")
		return
	}
	participantID, err := uuid.Parse(participantIDStr)
	if err != nil {
		response.BadRequest(c, "invalid participantId")
		return
	}
	chunkNumber, err := strconv.Atoi(chunkNumberStr)
	if err != nil || chunkNumber < 0 {
		response.BadRequest(c, "invalid chunkNumber")
		return
	}
	durationMs, err := strconv.Atoi(durationMsStr)
	if err != nil {
		response.BadRequest(c, "invalid durationMs")
		return
	}

	key := storage.ChunkKey(sessionID.String(), participantID.String(), chunkNumber)
	blobRef, err := h.blobs.Upload(c.Request.Context(), key, storage.ChunkContentType, file, header.Size)
	if err != nil {
		h.logger.Error("chunk blob upload failed", zap.Error(err),
			zap.String("session_id", sessionID.String()), zap.Int("chunk_number", chunkNumber))
		response.ServiceUnavailable(c, "failed to store chunk; retry the upload")
		return
	}

	ch := &models.Chunk{
		ParticipantID: participantID,
		ChunkNumber:   chunkNumber,
		BlobKey:       blobRef,
		ByteSize:      header.Size,
		DurationMs:    durationMs,
	}
	if err := h.store.UpsertChunk(c.Request.Context(), ch); err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			response.NotFound(c, "participant not found")
			return
		}
		h.logger.Error("chunk metadata upsert failed", zap.Error(err),
			zap.String("participant_id", participantID.String()), zap.Int("chunk_number", chunkNumber))
		response.ServiceUnavailable(c, "failed to record chunk metadata; retry the upload")
		return
	}

	response.Created(c, gin.H{"blobRef": blobRef})
}

// ListBySession handles GET /api/sessions/:id/recordings: the session's final
// recordings with presigned download URLs.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.store.ListFinalBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list recordings")
		return
	}
	out := make([]FinalRecordingResponse, 0, len(list))
	for _, rec := range list {
		item := FinalRecordingResponse{FinalRecording: rec}
		url, err := h.blobs.GeneratePresignedDownloadURL(c.Request.Context(), rec.BlobKey, h.blobs.PresignExpire())
		if err == nil {
			item.DownloadURL = url
		} else if !errors.Is(err, context.Canceled) {
			h.logger.Warn("presign download url failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		}
		out = append(out, item)
	}
	response.OK(c, out)
}
