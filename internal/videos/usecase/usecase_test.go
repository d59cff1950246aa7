package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos/repository"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// mp4Header is a minimal ISO BMFF prefix ("ftyp" at offset 4).
var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}

type stubVideoRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.VideoRecord
	created int
	deleted int
}

func newStubVideoRepo() *stubVideoRepo {
	return &stubVideoRepo{records: make(map[uuid.UUID]*models.VideoRecord)}
}

func (r *stubVideoRepo) CreateVideo(_ context.Context, video *models.VideoRecord) (*models.VideoRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *video
	copied.Status = models.StatusPending
	copied.CreatedAt = time.Now()
	r.records[video.VideoID] = &copied
	r.created++
	out := copied
	return &out, nil
}

func (r *stubVideoRepo) GetVideoByID(_ context.Context, videoID uuid.UUID) (*models.VideoRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[videoID]
	if !ok {
		return nil, videos.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *stubVideoRepo) GetVideos(_ context.Context, ownerID uuid.UUID, pq *utils.Pagination) (*models.VideoList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := &models.VideoList{Page: pq.Page, PageSize: pq.Size}
	for _, record := range r.records {
		if record.OwnerID == ownerID {
			copied := *record
			list.Videos = append(list.Videos, &copied)
		}
	}
	list.TotalCount = len(list.Videos)
	return list, nil
}

func (r *stubVideoRepo) UpdateStatus(_ context.Context, video *models.VideoRecord, from models.VideoStatus) (*models.VideoRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[video.VideoID]
	if !ok {
		return nil, videos.ErrNotFound
	}
	if record.Status != from {
		return nil, fmt.Errorf("record no longer in status %s: %w", from, videos.ErrStaleRecord)
	}
	if !from.CanTransitionTo(video.Status) {
		return nil, &videos.ContractError{Op: "UpdateStatus", Detail: "transition not allowed"}
	}
	record.Status = video.Status
	if video.Progress > record.Progress {
		record.Progress = video.Progress
	}
	if video.ResultManifest != nil {
		record.ResultManifest = video.ResultManifest
	}
	record.ErrorMessage = video.ErrorMessage
	copied := *record
	return &copied, nil
}

func (r *stubVideoRepo) MarkProcessingStarted(_ context.Context, videoID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[videoID]; ok && record.ProcessingStartedAt == nil {
		now := time.Now()
		record.ProcessingStartedAt = &now
	}
	return nil
}

func (r *stubVideoRepo) ResetForReprocess(_ context.Context, videoID uuid.UUID) (*models.VideoRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[videoID]
	if !ok {
		return nil, videos.ErrNotFound
	}
	if record.Status != models.StatusFailed {
		return nil, &videos.ContractError{Op: "ResetForReprocess", Detail: "not failed"}
	}
	record.Status = models.StatusPending
	record.ErrorMessage = ""
	copied := *record
	return &copied, nil
}

func (r *stubVideoRepo) DeleteVideo(_ context.Context, _ uuid.UUID, videoID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[videoID]; !ok {
		return videos.ErrNotFound
	}
	delete(r.records, videoID)
	r.deleted++
	return nil
}

type stubObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newStubObjectStore() *stubObjectStore {
	return &stubObjectStore{objects: make(map[string][]byte)}
}

func (s *stubObjectStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *stubObjectStore) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return nil, 0, videos.ErrSourceMissing
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *stubObjectStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *stubObjectStore) DeletePrefix(_ context.Context, _ string) error { return nil }

func (s *stubObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

type stubStatusCache struct {
	mu       sync.Mutex
	entries  map[string]*models.VideoStatusResponse
	hits     int
	misses   int
	invalids int
}

func newStubStatusCache() *stubStatusCache {
	return &stubStatusCache{entries: make(map[string]*models.VideoStatusResponse)}
}

func (c *stubStatusCache) GetStatus(_ context.Context, videoID string) (*models.VideoStatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[videoID]; ok {
		c.hits++
		return entry, nil
	}
	c.misses++
	return nil, nil
}

func (c *stubStatusCache) SetStatus(_ context.Context, videoID string, status *models.VideoStatusResponse, _ time.Duration) error {
	c.mu.Lock()
	c.entries[videoID] = status
	c.mu.Unlock()
	return nil
}

func (c *stubStatusCache) Invalidate(_ context.Context, videoID string) error {
	c.mu.Lock()
	delete(c.entries, videoID)
	c.invalids++
	c.mu.Unlock()
	return nil
}

type ucFixture struct {
	uc      videos.UseCase
	repo    *stubVideoRepo
	objects *stubObjectStore
	broker  videos.Broker
	cache   *stubStatusCache
	user    *models.User
}

func newFixture(t *testing.T) *ucFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Upload.MaxFileBytes = 1 << 20
	cfg.Redis.StatusTTL = time.Second

	staging, err := repository.NewDiskStaging(t.TempDir())
	require.NoError(t, err)

	f := &ucFixture{
		repo:    newStubVideoRepo(),
		objects: newStubObjectStore(),
		broker:  repository.NewMemoryBroker(),
		cache:   newStubStatusCache(),
		user:    &models.User{UserID: uuid.New(), Username: "carol"},
	}
	f.uc = NewVideoUseCase(cfg, f.repo, f.objects, f.broker, staging, f.cache, logger.NewNopLogger())
	return f
}

func (f *ucFixture) ctx() context.Context {
	return context.WithValue(context.Background(), utils.UserCtxKey{}, f.user)
}

func TestCreateUpload(t *testing.T) {
	t.Run("rejects unsupported container", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uc.CreateUpload(f.ctx(), &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "notes.txt",
			TotalBytes: 100,
		})
		assert.ErrorIs(t, err, videos.ErrUnsupportedFormat)
	})

	t.Run("rejects declared size over the cap", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uc.CreateUpload(f.ctx(), &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: 2 << 20,
		})
		assert.ErrorIs(t, err, videos.ErrSizeMismatch)
	})

	t.Run("rejects zero declared size", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uc.CreateUpload(f.ctx(), &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: 0,
		})
		assert.Error(t, err)
	})

	t.Run("requires an authenticated user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uc.CreateUpload(context.Background(), &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: 100,
		})
		assert.Error(t, err)
	})
}

func TestAppendChunkFinalize(t *testing.T) {
	t.Run("final chunk creates the record and queues exactly one job", func(t *testing.T) {
		f := newFixture(t)
		ctx := f.ctx()
		payload := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte("x"), 100)...)

		_, err := f.uc.CreateUpload(ctx, &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: int64(len(payload)),
		})
		require.NoError(t, err)

		half := len(payload) / 2
		confirmed, complete, err := f.uc.AppendChunk(ctx, "u1", 0, bytes.NewReader(payload[:half]))
		require.NoError(t, err)
		assert.Nil(t, complete)
		assert.Equal(t, int64(half), confirmed)

		confirmed, complete, err = f.uc.AppendChunk(ctx, "u1", int64(half), bytes.NewReader(payload[half:]))
		require.NoError(t, err)
		require.NotNil(t, complete)
		assert.Equal(t, int64(len(payload)), confirmed)
		assert.Equal(t, models.StatusPending, complete.Status)

		videoID := uuid.MustParse(complete.VideoID)
		record, err := f.repo.GetVideoByID(ctx, videoID)
		require.NoError(t, err)
		assert.Equal(t, utils.OriginalKey(complete.VideoID, "clip.mp4"), record.SourceObjectKey)
		assert.Equal(t, int64(len(payload)), record.SizeBytes)

		// The stored original must be byte-identical to what was uploaded.
		assert.Equal(t, payload, f.objects.objects[record.SourceObjectKey])

		job, err := f.broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, complete.VideoID, job.JobID)
		assert.Equal(t, complete.VideoID, job.VideoID)
		assert.Equal(t, 1, job.Attempt)

		// The session is gone once finalized.
		_, err = f.uc.UploadOffset(ctx, "u1")
		assert.ErrorIs(t, err, videos.ErrUploadNotFound)
	})

	t.Run("garbage payload is rejected at finalize", func(t *testing.T) {
		f := newFixture(t)
		ctx := f.ctx()
		payload := bytes.Repeat([]byte("junk"), 16)

		_, err := f.uc.CreateUpload(ctx, &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: int64(len(payload)),
		})
		require.NoError(t, err)

		_, complete, err := f.uc.AppendChunk(ctx, "u1", 0, bytes.NewReader(payload))
		assert.ErrorIs(t, err, videos.ErrUnsupportedFormat)
		assert.Nil(t, complete)
		assert.Zero(t, f.repo.created)
	})

	t.Run("enqueue failure compensates the created record", func(t *testing.T) {
		f := newFixture(t)
		ctx := f.ctx()
		f.broker = failingBroker{}
		payload := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte("x"), 16)...)

		cfg := &config.Config{}
		cfg.Redis.StatusTTL = time.Second
		staging, err := repository.NewDiskStaging(t.TempDir())
		require.NoError(t, err)
		f.uc = NewVideoUseCase(cfg, f.repo, f.objects, f.broker, staging, f.cache, logger.NewNopLogger())

		_, err = f.uc.CreateUpload(ctx, &models.CreateUploadInput{
			UploadID:   "u1",
			FileName:   "clip.mp4",
			TotalBytes: int64(len(payload)),
		})
		require.NoError(t, err)

		_, complete, err := f.uc.AppendChunk(ctx, "u1", 0, bytes.NewReader(payload))
		assert.Error(t, err)
		assert.Nil(t, complete)
		assert.Equal(t, 1, f.repo.created)
		assert.Equal(t, 1, f.repo.deleted)
	})
}

type failingBroker struct{}

func (failingBroker) Enqueue(context.Context, *models.ProcessingJob) error { return assert.AnError }
func (failingBroker) Dequeue(context.Context, time.Duration) (*models.ProcessingJob, error) {
	return nil, nil
}
func (failingBroker) Ack(context.Context, string) error                { return nil }
func (failingBroker) Nack(context.Context, string) error               { return nil }
func (failingBroker) ExtendLease(context.Context, string, time.Duration) error { return nil }
func (failingBroker) ScheduleRetry(context.Context, *models.ProcessingJob, time.Duration) error {
	return nil
}
func (failingBroker) CancelQueued(context.Context, string) error { return nil }

func TestGetStatus(t *testing.T) {
	t.Run("cache miss falls through and populates", func(t *testing.T) {
		f := newFixture(t)
		record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
			VideoID:         uuid.New(),
			OwnerID:         f.user.UserID,
			FileName:        "clip.mp4",
			SourceObjectKey: "videos/original/x_clip.mp4",
			SizeBytes:       10,
		})
		require.NoError(t, err)

		status, err := f.uc.GetStatus(f.ctx(), record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, status.Status)
		assert.Equal(t, 1, f.cache.misses)

		_, err = f.uc.GetStatus(f.ctx(), record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, 1, f.cache.hits)
	})

	t.Run("manifest only appears once completed", func(t *testing.T) {
		f := newFixture(t)
		record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
			VideoID:   uuid.New(),
			OwnerID:   f.user.UserID,
			FileName:  "clip.mp4",
			SizeBytes: 10,
		})
		require.NoError(t, err)

		f.repo.mu.Lock()
		f.repo.records[record.VideoID].Status = models.StatusTranscoding
		f.repo.records[record.VideoID].ResultManifest = &models.ResultManifest{
			Renditions: []models.Rendition{{Quality: "360p"}},
		}
		f.repo.mu.Unlock()

		status, err := f.uc.GetStatus(f.ctx(), record.VideoID)
		require.NoError(t, err)
		assert.Nil(t, status.Manifest)

		f.repo.mu.Lock()
		f.repo.records[record.VideoID].Status = models.StatusCompleted
		f.repo.mu.Unlock()
		require.NoError(t, f.cache.Invalidate(context.Background(), record.VideoID.String()))

		status, err = f.uc.GetStatus(f.ctx(), record.VideoID)
		require.NoError(t, err)
		require.NotNil(t, status.Manifest)
	})

	t.Run("unknown video", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uc.GetStatus(f.ctx(), uuid.New())
		assert.ErrorIs(t, err, videos.ErrNotFound)
	})

	t.Run("another user's video is forbidden, cached or not", func(t *testing.T) {
		f := newFixture(t)
		owner := &models.User{UserID: uuid.New(), Username: "dave"}
		record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
			VideoID:   uuid.New(),
			OwnerID:   owner.UserID,
			FileName:  "clip.mp4",
			SizeBytes: 10,
		})
		require.NoError(t, err)

		// The owner's own poll warms the cache first.
		ownerCtx := context.WithValue(context.Background(), utils.UserCtxKey{}, owner)
		_, err = f.uc.GetStatus(ownerCtx, record.VideoID)
		require.NoError(t, err)

		_, err = f.uc.GetStatus(f.ctx(), record.VideoID)
		assert.ErrorIs(t, err, videos.ErrForbidden)

		// Same answer on a cold cache.
		require.NoError(t, f.cache.Invalidate(context.Background(), record.VideoID.String()))
		_, err = f.uc.GetStatus(f.ctx(), record.VideoID)
		assert.ErrorIs(t, err, videos.ErrForbidden)
	})
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
		VideoID:   uuid.New(),
		OwnerID:   uuid.New(), // someone else
		FileName:  "clip.mp4",
		SizeBytes: 10,
	})
	require.NoError(t, err)

	_, err = f.uc.GetPlaybackInfo(f.ctx(), record.VideoID)
	assert.ErrorIs(t, err, videos.ErrForbidden)

	err = f.uc.DeleteVideo(f.ctx(), record.VideoID)
	assert.ErrorIs(t, err, videos.ErrForbidden)

	_, err = f.uc.Reprocess(f.ctx(), record.VideoID)
	assert.ErrorIs(t, err, videos.ErrForbidden)
}

func TestReprocess(t *testing.T) {
	t.Run("only failed videos can be re-submitted", func(t *testing.T) {
		f := newFixture(t)
		record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
			VideoID:   uuid.New(),
			OwnerID:   f.user.UserID,
			FileName:  "clip.mp4",
			SizeBytes: 10,
		})
		require.NoError(t, err)

		_, err = f.uc.Reprocess(f.ctx(), record.VideoID)
		var contractErr *videos.ContractError
		assert.ErrorAs(t, err, &contractErr)
	})

	t.Run("failed video goes back to pending and re-queues", func(t *testing.T) {
		f := newFixture(t)
		record, err := f.repo.CreateVideo(context.Background(), &models.VideoRecord{
			VideoID:   uuid.New(),
			OwnerID:   f.user.UserID,
			FileName:  "clip.mp4",
			SizeBytes: 10,
		})
		require.NoError(t, err)

		f.repo.mu.Lock()
		f.repo.records[record.VideoID].Status = models.StatusFailed
		f.repo.records[record.VideoID].ErrorMessage = "boom"
		f.repo.mu.Unlock()

		status, err := f.uc.Reprocess(f.ctx(), record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, status.Status)
		assert.Empty(t, status.ErrorMessage)

		job, err := f.broker.Dequeue(context.Background(), time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, record.VideoID.String(), job.JobID)
		assert.Equal(t, 1, job.Attempt)
	})
}

func TestDeleteVideo(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	record, err := f.repo.CreateVideo(ctx, &models.VideoRecord{
		VideoID:         uuid.New(),
		OwnerID:         f.user.UserID,
		FileName:        "clip.mp4",
		SourceObjectKey: "videos/original/x_clip.mp4",
		SizeBytes:       10,
	})
	require.NoError(t, err)
	f.objects.objects[record.SourceObjectKey] = []byte("data")

	require.NoError(t, f.uc.DeleteVideo(ctx, record.VideoID))

	_, err = f.repo.GetVideoByID(ctx, record.VideoID)
	assert.ErrorIs(t, err, videos.ErrNotFound)
	assert.NotContains(t, f.objects.objects, record.SourceObjectKey)
}
