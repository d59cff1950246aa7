package videos

import (
	"context"
	"time"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
)

// Broker is the at-least-once job queue. A dequeued job carries a lease; an
// unacked job becomes visible again when the lease expires. At most one
// unexpired lease exists per job id.
type Broker interface {
	Enqueue(ctx context.Context, job *models.ProcessingJob) error
	// Dequeue returns the next claimable job, or nil when none is available.
	Dequeue(ctx context.Context, lease time.Duration) (*models.ProcessingJob, error)
	Ack(ctx context.Context, jobID string) error
	// Nack releases the lease and makes the job visible immediately.
	Nack(ctx context.Context, jobID string) error
	ExtendLease(ctx context.Context, jobID string, lease time.Duration) error
	// ScheduleRetry re-enqueues the job after delay, releasing its lease.
	ScheduleRetry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error
	// CancelQueued removes a still-queued job. Returns ErrJobLeased if a
	// worker already holds the lease.
	CancelQueued(ctx context.Context, jobID string) error
}

// StatusCache is a read-through cache in front of the status API; writers
// invalidate it on every record mutation.
type StatusCache interface {
	GetStatus(ctx context.Context, videoID string) (*models.VideoStatusResponse, error)
	SetStatus(ctx context.Context, videoID string, status *models.VideoStatusResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, videoID string) error
}
