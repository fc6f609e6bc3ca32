package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podrec/backend/internal/models"
	"github.com/podrec/backend/pkg/queue"
	"github.com/podrec/backend/pkg/storage"
)

// Store is the persistence surface the assembler needs.
type Store interface {
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	ListChunksByParticipant(ctx context.Context, participantID uuid.UUID) ([]models.Chunk, error)
	CreateFinalRecording(ctx context.Context, rec *models.FinalRecording) error
}

// BlobStore is the blob storage surface the assembler needs.
type BlobStore interface {
	DownloadToFile(ctx context.Context, key, localPath string) error
	UploadFile(ctx context.Context, key, contentType, localPath string) (blobKey string, byteSize int64, err error)
}

// Publisher publishes completion events to the event bridge.
type Publisher interface {
	PublishRecordingCompleted(ctx context.Context, sessionID, participantID uuid.UUID) error
}

// JobQueue is the queue surface the run loop consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job) error
}

// Assembler consumes process-session jobs and merges each participant's
// ordered chunks into one final recording.
type Assembler struct {
	store       Store
	blobs       BlobStore
	queue       JobQueue
	events      Publisher
	scratchRoot string
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewAssembler creates an assembly worker. scratchRoot is the parent of
// per-session working areas; empty means os.TempDir(). callTimeout bounds
// each individual blob download/upload.
func NewAssembler(store Store, blobs BlobStore, q JobQueue, events Publisher, scratchRoot string, callTimeout time.Duration, logger *zap.Logger) *Assembler {
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		store:       store,
		blobs:       blobs,
		queue:       q,
		events:      events,
		scratchRoot: scratchRoot,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Process executes one process-session job. Any failure aborts the whole job,
// including remaining participants; rows already written stay written and the
// queue's retry policy decides what happens next.
func (a *Assembler) Process(ctx context.Context, job *queue.Job) error {
	if job.Name != queue.JobProcessSession {
		return fmt.Errorf("unknown job name: %s", job.Name)
	}
	var payload queue.ProcessSessionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return a.ProcessSession(ctx, payload.SessionID)
}

// ProcessSession assembles every participant's recording for one session.
// The scratch area is scoped to the session id, so concurrent jobs for
// different sessions never touch each other's files; it is removed on every
// exit path.
func (a *Assembler) ProcessSession(ctx context.Context, sessionID uuid.UUID) error {
	scratch := filepath.Join(a.scratchRoot, sessionID.String())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	participants, err := a.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	for _, p := range participants {
		if err := a.assembleParticipant(ctx, scratch, sessionID, p); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) assembleParticipant(ctx context.Context, scratch string, sessionID uuid.UUID, p models.Participant) error {
	chunks, err := a.store.ListChunksByParticipant(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", p.ID, err)
	}
	if len(chunks) == 0 {
		a.logger.Info("participant has no chunks, skipping",
			zap.String("session_id", sessionID.String()), zap.String("participant_id", p.ID.String()))
		return nil
	}

	// Chunks arrive ordered by chunk number; download in that order.
	localPaths := make([]string, 0, len(chunks))
	totalDurationMs := 0
	for _, ch := range chunks {
		localPath := filepath.Join(scratch, fmt.Sprintf("%s_chunk_%05d.webm", p.ID, ch.ChunkNumber))
		if err := a.downloadChunk(ctx, ch.BlobKey, localPath); err != nil {
			return fmt.Errorf("download chunk %d for %s: %w", ch.ChunkNumber, p.ID, err)
		}
		localPaths = append(localPaths, localPath)
		totalDurationMs += ch.DurationMs
	}

	merged := filepath.Join(scratch, fmt.Sprintf("final_%s.webm", p.ID))
	if err := concatFiles(localPaths, merged); err != nil {
		return &AssemblyError{Err: fmt.Errorf("participant %s: %w", p.ID, err)}
	}

	key := storage.FinalRecordingKey(sessionID.String(), p.ID.String())
	blobKey, byteSize, err := a.uploadFinal(ctx, key, merged)
	if err != nil {
		return fmt.Errorf("upload final recording for %s: %w", p.ID, err)
	}

	rec := &models.FinalRecording{
		SessionID:     sessionID,
		ParticipantID: p.ID,
		BlobKey:       blobKey,
		ByteSize:      byteSize,
		DurationMs:    totalDurationMs,
		Status:        models.RecordingStatusCompleted,
	}
	if err := a.store.CreateFinalRecording(ctx, rec); err != nil {
		return fmt.Errorf("persist final recording for %s: %w", p.ID, err)
	}

	if err := a.events.PublishRecordingCompleted(ctx, sessionID, p.ID); err != nil {
		return fmt.Errorf("publish completion for %s: %w", p.ID, err)
	}

	a.logger.Info("final recording assembled",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.Int("chunks", len(chunks)),
		zap.Int("duration_ms", totalDurationMs),
		zap.Int64("byte_size", byteSize))
	return nil
}

func (a *Assembler) downloadChunk(ctx context.Context, key, localPath string) error {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return a.blobs.DownloadToFile(callCtx, key, localPath)
}

func (a *Assembler) uploadFinal(ctx context.Context, key, localPath string) (string, int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return a.blobs.UploadFile(callCtx, key, storage.ChunkContentType, localPath)
}

// queueOpTimeout bounds ack/retry bookkeeping. These run on a context
// detached from the run loop's, so shutdown cannot cancel them and drop an
// in-flight job off the processing list.
const queueOpTimeout = 10 * time.Second

// Run starts the worker loop: dequeue, process, ack or retry. Stops when ctx
// is done; a job cut short by process termination stays on the processing
// list and is requeued by queue.Recover at the next start.
func (a *Assembler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("assembly worker stopping")
			return
		default:
		}

		job, err := a.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("assembly worker stopping")
				return
			}
			a.logger.Warn("dequeue error", zap.Error(err))
			a.pause(ctx)
			continue
		}
		if job == nil {
			continue
		}

		a.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("name", job.Name))
		if err := a.Process(ctx, job); err != nil {
			var ae *AssemblyError
			if errors.As(err, &ae) {
				a.logger.Error("job failed: content error, retry will repeat it",
					zap.String("job_id", job.ID), zap.Error(err))
			} else {
				a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			if reErr := a.queueOp(ctx, job, a.queue.Retry); reErr != nil {
				a.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			a.pause(ctx)
			continue
		}

		if err := a.queueOp(ctx, job, a.queue.Ack); err != nil {
			a.logger.Error("ack failed, job may be redelivered", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// queueOp runs an ack or retry with a fresh timeout, detached from the run
// loop's cancellation.
func (a *Assembler) queueOp(ctx context.Context, job *queue.Job, op func(context.Context, *queue.Job) error) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queueOpTimeout)
	defer cancel()
	return op(opCtx, job)
}

// pause waits out the retry backoff, returning early on shutdown.
func (a *Assembler) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(queue.RetryBackoff):
	}
}
