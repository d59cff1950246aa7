package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos/repository"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
)

func newPoolFixture(t *testing.T) (*Pool, *pipelineFixture, videos.Broker) {
	t.Helper()
	f := newPipelineFixture(t)
	f.cfg.Worker.WorkerCount = 1
	f.cfg.Worker.LeaseDuration = time.Minute
	f.cfg.Worker.MaxAttempts = 3
	f.cfg.Worker.RetryBackoff = []time.Duration{time.Millisecond}

	broker := repository.NewMemoryBroker()
	pool := NewPool(f.cfg, broker, f.repo, fakeCache{}, f.pipeline, logger.NewNopLogger())
	return pool, f, broker
}

func TestPoolSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("success acks the job", func(t *testing.T) {
		pool, f, broker := newPoolFixture(t)
		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		pool.settle(ctx, 0, job, nil)

		// Gone for good, even after the lease would have expired.
		again, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("retryable failure schedules a delayed attempt", func(t *testing.T) {
		pool, f, broker := newPoolFixture(t)
		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		pool.settle(ctx, 0, job, videos.Retryable(assert.AnError))

		require.Eventually(t, func() bool {
			retried, err := broker.Dequeue(ctx, time.Minute)
			if err != nil || retried == nil {
				return false
			}
			assert.Equal(t, 2, retried.Attempt)
			return true
		}, time.Second, 5*time.Millisecond)

		// The record is untouched, not failed.
		record, err := f.repo.GetVideoByID(ctx, f.record.VideoID)
		require.NoError(t, err)
		assert.NotEqual(t, models.StatusFailed, record.Status)
	})

	t.Run("exhausted attempts mark the record failed", func(t *testing.T) {
		pool, f, broker := newPoolFixture(t)
		f.job.Attempt = 3
		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		pool.settle(ctx, 0, job, videos.Retryable(assert.AnError))

		record, err := f.repo.GetVideoByID(ctx, f.record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, record.Status)
		assert.NotEmpty(t, record.ErrorMessage)
		assert.NotNil(t, record.ProcessingCompletedAt)

		again, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("non-retryable failure fails immediately regardless of attempts left", func(t *testing.T) {
		pool, f, broker := newPoolFixture(t)
		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		pool.settle(ctx, 0, job, videos.ErrSourceMissing)

		record, err := f.repo.GetVideoByID(ctx, f.record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, record.Status)
	})

	t.Run("losing the status race abandons the outcome and the ack", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.cfg.Worker.WorkerCount = 1
		f.cfg.Worker.LeaseDuration = time.Minute
		f.cfg.Worker.MaxAttempts = 3
		f.cfg.Worker.RetryBackoff = []time.Duration{time.Millisecond}
		now := time.Now()
		broker := repository.NewMemoryBrokerWithClock(func() time.Time { return now })
		pool := NewPool(f.cfg, broker, f.repo, fakeCache{}, f.pipeline, logger.NewNopLogger())

		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		// Another worker re-claimed the job after this one's lease lapsed
		// and already advanced the record.
		f.repo.mu.Lock()
		f.repo.records[f.record.VideoID].Status = models.StatusTranscoding
		f.repo.records[f.record.VideoID].Progress = progressDownloaded
		f.repo.mu.Unlock()

		_, casErr := f.repo.UpdateStatus(ctx, &models.VideoRecord{
			VideoID: f.record.VideoID,
			Status:  models.StatusTranscoding,
		}, models.StatusDownloading)
		require.ErrorIs(t, casErr, videos.ErrStaleRecord)

		pool.settle(ctx, 0, job, casErr)

		// The winner's record stands untouched.
		record, err := f.repo.GetVideoByID(ctx, f.record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusTranscoding, record.Status)
		assert.Empty(t, record.ErrorMessage)

		// Not acked either: once the lease runs out the job is claimable.
		now = now.Add(2 * time.Minute)
		again, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, job.JobID, again.JobID)
	})

	t.Run("failure freezes progress where the pipeline stopped", func(t *testing.T) {
		pool, f, broker := newPoolFixture(t)
		f.transcoder.failQuality = "720p"
		f.transcoder.failuresLeft = 10
		f.job.Attempt = 3

		require.NoError(t, broker.Enqueue(ctx, f.job))
		job, err := broker.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		runErr := pool.pipeline.Run(ctx, job)
		require.Error(t, runErr)
		pool.settle(ctx, 0, job, runErr)

		record, err := f.repo.GetVideoByID(ctx, f.record.VideoID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, record.Status)
		// The 360p rendition finished, so progress reflects it.
		assert.Greater(t, record.Progress, progressDownloaded)
		assert.Less(t, record.Progress, progressTranscoded)
		require.NotNil(t, record.ResultManifest)
		assert.True(t, record.ResultManifest.HasRendition("360p"))
	})
}

func TestPoolHeartbeatStopsRunOnLeaseLoss(t *testing.T) {
	ctx := context.Background()
	pool, f, broker := newPoolFixture(t)
	f.cfg.Worker.LeaseDuration = 30 * time.Millisecond

	require.NoError(t, broker.Enqueue(ctx, f.job))
	job, err := broker.Dequeue(ctx, f.cfg.Worker.LeaseDuration)
	require.NoError(t, err)
	// Drop the lease out from under the heartbeat.
	require.NoError(t, broker.Nack(ctx, job.JobID))

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.heartbeat(jobCtx, job.JobID, func() {
			close(lost)
			cancel()
		})
	}()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat never reported the lost lease")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat did not stop after the lost lease")
	}
	assert.Error(t, jobCtx.Err())
}

func TestPoolRunProcessesQueuedJob(t *testing.T) {
	pool, f, broker := newPoolFixture(t)
	require.NoError(t, broker.Enqueue(context.Background(), f.job))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		record, err := f.repo.GetVideoByID(context.Background(), f.record.VideoID)
		return err == nil && record.Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain after cancel")
	}
}
