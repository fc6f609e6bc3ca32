package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueVideoProcessing is the Redis list key for session assembly jobs.
	QueueVideoProcessing = "video-processing"
	// QueueProcessing holds jobs between dequeue and ack, so a job a worker
	// dies with is still on a list and can be requeued by Recover.
	QueueProcessing = "video-processing:active"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "video-processing:dlq"
	// MaxRetries is the number of times to retry a job before moving it to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobProcessSession is the job name for assembling a session's recordings.
const JobProcessSession = "process-session"

// ProcessSessionPayload is the payload for process-session jobs.
type ProcessSessionPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
}

// Job is the queue envelope. A job is complete only when the consumer acks
// it; a handler error sends it back through Retry.
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`

	// raw is the list entry exactly as dequeued, kept for LREM bookkeeping
	// on the processing list.
	raw string
}

// Queue enqueues and dequeues jobs via Redis lists. Delivery is at-least-once:
// a dequeued job sits on the processing list until Ack or Retry, and Recover
// requeues whatever a dead worker left there.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueProcessSession enqueues one assembly job for an ended session.
func (q *Queue) EnqueueProcessSession(ctx context.Context, sessionID uuid.UUID) error {
	body, err := json.Marshal(ProcessSessionPayload{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Name:      JobProcessSession,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueVideoProcessing, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued process-session job",
		zap.String("job_id", job.ID), zap.String("session_id", sessionID.String()))
	return nil
}

// Dequeue blocks until a job is available or ctx is done. The job is moved
// onto the processing list, not popped outright; callers must Ack or Retry it.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	raw, err := q.client.BLMove(ctx, QueueVideoProcessing, QueueProcessing, "LEFT", "RIGHT", 0).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", raw), zap.Error(err))
		q.removeProcessing(ctx, raw)
		return nil, nil
	}
	job.raw = raw
	return &job, nil
}

// Ack removes a completed job from the processing list.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, QueueProcessing, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	return nil
}

// Retry takes a failed job off the processing list and re-enqueues it with
// incremented attempt. If attempt >= MaxRetries, it goes to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	if job.raw != "" {
		q.removeProcessing(ctx, job.raw)
	}
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueVideoProcessing, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Recover moves jobs a dead worker left on the processing list back onto the
// queue. Run once at worker start, before the consume loop. With several
// workers this can requeue a live peer's in-flight job; the resulting rerun
// is covered by at-least-once semantics.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, QueueProcessing, QueueVideoProcessing, "RIGHT", "LEFT").Result()
		if err != nil {
			if err == redis.Nil {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

func (q *Queue) removeProcessing(ctx context.Context, raw string) {
	if err := q.client.LRem(ctx, QueueProcessing, 1, raw).Err(); err != nil {
		q.logger.Warn("processing list cleanup failed", zap.Error(err))
	}
}
