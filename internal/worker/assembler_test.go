package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podrec/backend/internal/models"
	"github.com/podrec/backend/pkg/queue"
	"github.com/podrec/backend/pkg/storage"
)

type fakeStore struct {
	mu           sync.Mutex
	participants map[uuid.UUID][]models.Participant
	chunks       map[uuid.UUID][]models.Chunk
	created      []*models.FinalRecording
	createErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[uuid.UUID][]models.Participant),
		chunks:       make(map[uuid.UUID][]models.Chunk),
	}
}

func (s *fakeStore) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[sessionID], nil
}

// ListChunksByParticipant returns chunks ordered by chunk number, matching the
// repository's ORDER BY, regardless of the order they were registered in.
func (s *fakeStore) ListChunksByParticipant(_ context.Context, participantID uuid.UUID) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := append([]models.Chunk(nil), s.chunks[participantID]...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkNumber < chunks[j].ChunkNumber })
	return chunks, nil
}

func (s *fakeStore) CreateFinalRecording(_ context.Context, rec *models.FinalRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, rec)
	return nil
}

type fakeBlobs struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploads     map[string][]byte
	downloadErr map[string]error
	// keys whose "download" materializes as a directory, so the merge step
	// fails when it tries to read the path as a file.
	dirKeys map[string]bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects:     make(map[string][]byte),
		uploads:     make(map[string][]byte),
		downloadErr: make(map[string]error),
		dirKeys:     make(map[string]bool),
	}
}

func (b *fakeBlobs) DownloadToFile(_ context.Context, key, localPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.downloadErr[key]; err != nil {
		return err
	}
	if b.dirKeys[key] {
		return os.Mkdir(localPath, 0o755)
	}
	data, ok := b.objects[key]
	if !ok {
		return fmt.Errorf("no such key: %s", key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (b *fakeBlobs) UploadFile(_ context.Context, key, _ string, localPath string) (string, int64, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", 0, err
	}
	b.mu.Lock()
	b.uploads[key] = data
	b.mu.Unlock()
	return key, int64(len(data)), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events [][2]uuid.UUID
}

func (p *fakePublisher) PublishRecordingCompleted(_ context.Context, sessionID, participantID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, [2]uuid.UUID{sessionID, participantID})
	return nil
}

func newTestAssembler(t *testing.T, store *fakeStore, blobs *fakeBlobs, pub *fakePublisher) (*Assembler, string) {
	t.Helper()
	scratchRoot := t.TempDir()
	a := NewAssembler(store, blobs, nil, pub, scratchRoot, time.Minute, zap.NewNop())
	return a, scratchRoot
}

// addParticipant registers a participant with the given chunk contents, keyed
// by chunk number. Chunks are registered in map iteration order, i.e. randomly.
func addParticipant(store *fakeStore, blobs *fakeBlobs, sessionID uuid.UUID, chunks map[int][]byte) models.Participant {
	p := models.Participant{ID: uuid.New(), SessionID: sessionID, DisplayName: "P"}
	store.participants[sessionID] = append(store.participants[sessionID], p)
	for n, content := range chunks {
		key := storage.ChunkKey(sessionID.String(), p.ID.String(), n)
		blobs.objects[key] = content
		store.chunks[p.ID] = append(store.chunks[p.ID], models.Chunk{
			ID:            uuid.New(),
			ParticipantID: p.ID,
			ChunkNumber:   n,
			BlobKey:       key,
			ByteSize:      int64(len(content)),
			DurationMs:    1000,
		})
	}
	return p
}

func TestProcessMergesChunksInAscendingOrder(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	a, scratchRoot := newTestAssembler(t, store, blobs, pub)

	sessionID := uuid.New()
	p := addParticipant(store, blobs, sessionID, map[int][]byte{
		2: []byte("third"),
		0: []byte("first"),
		1: []byte("second"),
	})

	payload, err := json.Marshal(queue.ProcessSessionPayload{SessionID: sessionID})
	require.NoError(t, err)
	job := &queue.Job{ID: uuid.New().String(), Name: queue.JobProcessSession, Payload: payload}
	require.NoError(t, a.Process(context.Background(), job))

	finalKey := storage.FinalRecordingKey(sessionID.String(), p.ID.String())
	assert.Equal(t, []byte("firstsecondthird"), blobs.uploads[finalKey])

	require.Len(t, store.created, 1)
	rec := store.created[0]
	assert.Equal(t, sessionID, rec.SessionID)
	assert.Equal(t, p.ID, rec.ParticipantID)
	assert.Equal(t, finalKey, rec.BlobKey)
	assert.Equal(t, int64(len("firstsecondthird")), rec.ByteSize)
	assert.Equal(t, 3000, rec.DurationMs)
	assert.Equal(t, models.RecordingStatusCompleted, rec.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, [2]uuid.UUID{sessionID, p.ID}, pub.events[0])

	entries, err := os.ReadDir(scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dir should be removed after the job")
}

func TestProcessRejectsUnknownJobName(t *testing.T) {
	a, _ := newTestAssembler(t, newFakeStore(), newFakeBlobs(), &fakePublisher{})

	err := a.Process(context.Background(), &queue.Job{ID: "j1", Name: "transcode"})
	assert.Error(t, err)
}

func TestParticipantWithoutChunksIsSkipped(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	a, _ := newTestAssembler(t, store, blobs, pub)

	sessionID := uuid.New()
	withChunks := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("data")})
	addParticipant(store, blobs, sessionID, nil) // joined but never uploaded

	require.NoError(t, a.ProcessSession(context.Background(), sessionID))

	require.Len(t, store.created, 1)
	assert.Equal(t, withChunks.ID, store.created[0].ParticipantID)
	assert.Len(t, pub.events, 1)
}

func TestDownloadFailureAbortsRemainingParticipants(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	a, scratchRoot := newTestAssembler(t, store, blobs, pub)

	sessionID := uuid.New()
	ok := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("fine")})
	broken := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("gone")})
	last := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("never reached")})

	key := storage.ChunkKey(sessionID.String(), broken.ID.String(), 0)
	blobs.downloadErr[key] = errors.New("connection reset")

	err := a.ProcessSession(context.Background(), sessionID)
	require.Error(t, err)

	// The first participant's work is kept; the failure stops the job before
	// the third participant is touched.
	require.Len(t, store.created, 1)
	assert.Equal(t, ok.ID, store.created[0].ParticipantID)
	assert.Len(t, pub.events, 1)
	assert.NotContains(t, blobs.uploads, storage.FinalRecordingKey(sessionID.String(), last.ID.String()))

	entries, readErr := os.ReadDir(scratchRoot)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "scratch dir should be removed on failure too")
}

func TestMergeFailureIsAnAssemblyError(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	a, _ := newTestAssembler(t, store, blobs, &fakePublisher{})

	sessionID := uuid.New()
	p := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("x")})
	blobs.dirKeys[storage.ChunkKey(sessionID.String(), p.ID.String(), 0)] = true

	err := a.ProcessSession(context.Background(), sessionID)
	require.Error(t, err)

	var ae *AssemblyError
	assert.True(t, errors.As(err, &ae), "merge failures should carry AssemblyError, got %v", err)
	assert.Empty(t, store.created)
}

func TestConcurrentSessionsUseIsolatedScratchDirs(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	a, scratchRoot := newTestAssembler(t, store, blobs, pub)

	type sess struct {
		id uuid.UUID
		p  models.Participant
	}
	var sessions []sess
	for i := 0; i < 4; i++ {
		id := uuid.New()
		p := addParticipant(store, blobs, id, map[int][]byte{
			0: []byte(fmt.Sprintf("s%d-a", i)),
			1: []byte(fmt.Sprintf("s%d-b", i)),
		})
		sessions = append(sessions, sess{id: id, p: p})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s sess) {
			defer wg.Done()
			errs[i] = a.ProcessSession(context.Background(), s.id)
		}(i, s)
	}
	wg.Wait()

	for i, s := range sessions {
		require.NoError(t, errs[i])
		key := storage.FinalRecordingKey(s.id.String(), s.p.ID.String())
		assert.Equal(t, []byte(fmt.Sprintf("s%d-as%d-b", i, i)), blobs.uploads[key])
	}
	assert.Len(t, store.created, len(sessions))

	entries, err := os.ReadDir(scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    chan *queue.Job
	acked   []string
	retried []string
	// retryCtxLive records whether the context passed to Retry was still
	// usable at call time.
	retryCtxLive []bool
}

func newFakeQueue(jobs ...*queue.Job) *fakeQueue {
	q := &fakeQueue{jobs: make(chan *queue.Job, len(jobs)+1)}
	for _, j := range jobs {
		q.jobs <- j
	}
	return q
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case j := <-q.jobs:
		return j, nil
	}
}

func (q *fakeQueue) Ack(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, job.ID)
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, job.ID)
	q.retryCtxLive = append(q.retryCtxLive, ctx.Err() == nil)
	return nil
}

func processSessionJob(t *testing.T, sessionID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.ProcessSessionPayload{SessionID: sessionID})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.New().String(), Name: queue.JobProcessSession, Payload: payload}
}

func TestRunAcksCompletedJobs(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	scratchRoot := t.TempDir()

	sessionID := uuid.New()
	p := addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("data")})
	job := processSessionJob(t, sessionID)

	q := newFakeQueue(job)
	a := NewAssembler(store, blobs, q, pub, scratchRoot, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.acked) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []string{job.ID}, q.acked)
	assert.Empty(t, q.retried)
	assert.Contains(t, blobs.uploads, storage.FinalRecordingKey(sessionID.String(), p.ID.String()))
}

// shutdownStore cancels the run loop from inside job processing, simulating a
// SIGTERM landing mid-job.
type shutdownStore struct {
	*fakeStore
	cancel context.CancelFunc
}

func (s *shutdownStore) ListParticipants(ctx context.Context, _ uuid.UUID) ([]models.Participant, error) {
	s.cancel()
	return nil, ctx.Err()
}

func TestRunRetriesInFlightJobOnShutdown(t *testing.T) {
	sessionID := uuid.New()
	job := processSessionJob(t, sessionID)
	q := newFakeQueue(job)

	ctx, cancel := context.WithCancel(context.Background())
	store := &shutdownStore{fakeStore: newFakeStore(), cancel: cancel}
	a := NewAssembler(store, newFakeBlobs(), q, &fakePublisher{}, t.TempDir(), time.Minute, zap.NewNop())

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not stop after shutdown")
	}

	// The job interrupted by shutdown goes back to the queue, and the retry
	// call itself runs on a context the shutdown did not cancel.
	require.Equal(t, []string{job.ID}, q.retried)
	require.Len(t, q.retryCtxLive, 1)
	assert.True(t, q.retryCtxLive[0], "retry must not run on the cancelled shutdown context")
	assert.Empty(t, q.acked)
}

func TestReprocessingWritesAnotherRecordingRow(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	pub := &fakePublisher{}
	a, _ := newTestAssembler(t, store, blobs, pub)

	sessionID := uuid.New()
	addParticipant(store, blobs, sessionID, map[int][]byte{0: []byte("data")})

	require.NoError(t, a.ProcessSession(context.Background(), sessionID))
	require.NoError(t, a.ProcessSession(context.Background(), sessionID))

	// A retried job repeats completed work: a second row and a second event.
	// Readers take the latest row per participant.
	assert.Len(t, store.created, 2)
	assert.Len(t, pub.events, 2)
}
