package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// Pool runs a fixed number of processing workers against the broker. Each
// worker dequeues a leased job, keeps the lease alive with a heartbeat while
// the pipeline runs, and decides between ack, delayed retry, and permanent
// failure when it finishes.
type Pool struct {
	cfg       *config.Config
	broker    videos.Broker
	videoRepo videos.Repository
	cache     videos.StatusCache
	pipeline  *Pipeline
	policy    RetryPolicy
	logger    logger.Logger
}

func NewPool(
	cfg *config.Config,
	broker videos.Broker,
	videoRepo videos.Repository,
	cache videos.StatusCache,
	pipeline *Pipeline,
	log logger.Logger,
) *Pool {
	return &Pool{
		cfg:       cfg,
		broker:    broker,
		videoRepo: videoRepo,
		cache:     cache,
		pipeline:  pipeline,
		policy: RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			Backoff:     cfg.Worker.RetryBackoff,
		},
		logger: log,
	}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Worker.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.cfg.Worker.MaxCPUUsage > 0 {
			if ok, usage := utils.CheckCPUUsage(p.cfg.Worker.MaxCPUUsage); !ok {
				p.logger.Debugf("worker %d: backing off, cpu at %.1f%%", id, usage)
				continue
			}
		}

		job, err := p.broker.Dequeue(ctx, p.cfg.Worker.LeaseDuration)
		if err != nil {
			p.logger.Errorf("worker %d: dequeue: %v", id, err)
			continue
		}
		if job == nil {
			continue
		}
		p.handleJob(ctx, id, job)
	}
}

func (p *Pool) handleJob(ctx context.Context, id int, job *models.ProcessingJob) {
	p.logger.Infof("worker %d: picked up video %s (attempt %d)", id, job.VideoID, job.Attempt)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost atomic.Bool
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		p.heartbeat(jobCtx, job.JobID, func() {
			leaseLost.Store(true)
			cancel()
		})
	}()

	err := p.pipeline.Run(jobCtx, job)

	cancel()
	<-heartbeatDone

	if leaseLost.Load() {
		// The broker reclaimed this job and may have handed it to another
		// worker; whatever this run produced is no longer ours to record.
		p.logger.Warnf("worker %d: lease for job %s lost mid-run, abandoning outcome", id, job.JobID)
		return
	}

	// Use the outer context past this point so a shutdown mid-run still
	// lets the job outcome be recorded.
	p.settle(ctx, id, job, err)
}

// heartbeat extends the lease at a third of its duration so a healthy worker
// never loses a job to lease expiry. When the broker reports the lease gone,
// onLost cancels the run so a stale worker stops writing.
func (p *Pool) heartbeat(ctx context.Context, jobID string, onLost func()) {
	interval := p.cfg.Worker.LeaseDuration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.broker.ExtendLease(ctx, jobID, p.cfg.Worker.LeaseDuration); err != nil {
				p.logger.Warnf("lease extend for job %s: %v", jobID, err)
				if errors.Is(err, videos.ErrLeaseExpired) {
					onLost()
					return
				}
			}
		}
	}
}

func (p *Pool) settle(ctx context.Context, id int, job *models.ProcessingJob, runErr error) {
	switch {
	case runErr == nil:
		if err := p.broker.Ack(ctx, job.JobID); err != nil {
			p.logger.Errorf("worker %d: ack job %s: %v", id, job.JobID, err)
		}
		p.logger.Infof("worker %d: video %s completed", id, job.VideoID)

	case errors.Is(runErr, videos.ErrStaleRecord):
		// Lost the status CAS to another writer, which means our lease
		// lapsed and the job was re-claimed. The winner owns the record
		// and the lease now; neither ack nor markFailed belongs to us.
		p.logger.Warnf("worker %d: video %s advanced by another worker, abandoning outcome: %v",
			id, job.VideoID, runErr)

	case videos.IsRetryable(runErr) && !p.policy.Exhausted(job.Attempt):
		retry := *job
		retry.Attempt++
		delay := p.policy.Delay(retry.Attempt)
		if err := p.broker.ScheduleRetry(ctx, &retry, delay); err != nil {
			p.logger.Errorf("worker %d: schedule retry for job %s: %v", id, job.JobID, err)
			return
		}
		p.logger.Warnf("worker %d: video %s attempt %d failed, retrying in %s: %v",
			id, job.VideoID, job.Attempt, delay, runErr)

	default:
		p.markFailed(ctx, job, runErr)
		if err := p.broker.Ack(ctx, job.JobID); err != nil {
			p.logger.Errorf("worker %d: ack failed job %s: %v", id, job.JobID, err)
		}
		p.logger.Errorf("worker %d: video %s failed permanently after attempt %d: %v",
			id, job.VideoID, job.Attempt, runErr)
	}
}

// markFailed pins the record to failed with the last error, freezing progress
// at the point the pipeline stopped.
func (p *Pool) markFailed(ctx context.Context, job *models.ProcessingJob, runErr error) {
	videoID, err := uuid.Parse(job.VideoID)
	if err != nil {
		p.logger.Errorf("markFailed: job %s has no valid video id", job.JobID)
		return
	}
	record, err := p.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		p.logger.Errorf("markFailed: load video %s: %v", job.VideoID, err)
		return
	}
	if record.Status.Terminal() {
		return
	}

	from := record.Status
	record.Status = models.StatusFailed
	record.ErrorMessage = runErr.Error()
	now := time.Now()
	record.ProcessingCompletedAt = &now
	if _, err = p.videoRepo.UpdateStatus(ctx, record, from); err != nil {
		p.logger.Errorf("markFailed: persist video %s: %v", job.VideoID, err)
		return
	}
	if err = p.cache.Invalidate(ctx, job.VideoID); err != nil {
		p.logger.Warnf("markFailed: cache invalidate %s: %v", job.VideoID, err)
	}
}
