package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

// memoryBroker implements the same lease semantics as the redis broker for
// tests and single-process setups.
type memoryBroker struct {
	mu      sync.Mutex
	queue   []string
	jobs    map[string]*models.ProcessingJob
	leases  map[string]time.Time
	delayed map[string]time.Time
	now     func() time.Time
}

func NewMemoryBroker() videos.Broker {
	return &memoryBroker{
		jobs:    make(map[string]*models.ProcessingJob),
		leases:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryBrokerWithClock injects a clock so tests can force lease expiry.
func NewMemoryBrokerWithClock(now func() time.Time) videos.Broker {
	b := NewMemoryBroker().(*memoryBroker)
	b.now = now
	return b
}

func (b *memoryBroker) Enqueue(_ context.Context, job *models.ProcessingJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *job
	b.jobs[job.JobID] = &copied
	b.queue = append(b.queue, job.JobID)
	return nil
}

func (b *memoryBroker) Dequeue(_ context.Context, lease time.Duration) (*models.ProcessingJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for jobID, due := range b.delayed {
		if !due.After(now) {
			delete(b.delayed, jobID)
			b.queue = append(b.queue, jobID)
		}
	}
	for _, jobID := range b.queue {
		if exp, held := b.leases[jobID]; held && exp.After(now) {
			continue
		}
		job, ok := b.jobs[jobID]
		if !ok {
			continue
		}
		b.leases[jobID] = now.Add(lease)
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (b *memoryBroker) Ack(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeFromQueue(jobID)
	delete(b.jobs, jobID)
	delete(b.leases, jobID)
	return nil
}

func (b *memoryBroker) Nack(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leases, jobID)
	return nil
}

func (b *memoryBroker) ExtendLease(_ context.Context, jobID string, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, held := b.leases[jobID]
	if !held || !exp.After(b.now()) {
		return fmt.Errorf("lease for job %s: %w", jobID, videos.ErrLeaseExpired)
	}
	b.leases[jobID] = b.now().Add(lease)
	return nil
}

func (b *memoryBroker) ScheduleRetry(_ context.Context, job *models.ProcessingJob, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeFromQueue(job.JobID)
	copied := *job
	b.jobs[job.JobID] = &copied
	b.delayed[job.JobID] = b.now().Add(delay)
	delete(b.leases, job.JobID)
	return nil
}

func (b *memoryBroker) CancelQueued(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if exp, held := b.leases[jobID]; held && exp.After(b.now()) {
		return videos.ErrJobLeased
	}
	b.removeFromQueue(jobID)
	delete(b.delayed, jobID)
	delete(b.jobs, jobID)
	delete(b.leases, jobID)
	return nil
}

func (b *memoryBroker) removeFromQueue(jobID string) {
	for i, id := range b.queue {
		if id == jobID {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}
