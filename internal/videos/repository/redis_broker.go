package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

// redisBroker keeps job ids on a list and job payloads under job:{id}. A
// claim is a lease:{id} key written with SetNX and a TTL: while it lives no
// other worker can claim the job, and when it expires the id is still on the
// list, so the job is redelivered. Delayed retries sit in a sorted set scored
// by due time and are promoted on dequeue.
type redisBroker struct {
	redisClient *redis.Client
	queueKey    string
}

func NewRedisBroker(redisClient *redis.Client, queueKey string) videos.Broker {
	return &redisBroker{
		redisClient: redisClient,
		queueKey:    queueKey,
	}
}

func (b *redisBroker) jobKey(jobID string) string   { return "job:" + jobID }
func (b *redisBroker) leaseKey(jobID string) string { return "lease:" + jobID }
func (b *redisBroker) delayedKey() string           { return b.queueKey + ":delayed" }

func (b *redisBroker) Enqueue(ctx context.Context, job *models.ProcessingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := b.redisClient.TxPipeline()
	pipe.Set(ctx, b.jobKey(job.JobID), data, 0)
	pipe.RPush(ctx, b.queueKey, job.JobID)
	if _, err = pipe.Exec(ctx); err != nil {
		return videos.Retryable(fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err))
	}
	return nil
}

func (b *redisBroker) Dequeue(ctx context.Context, lease time.Duration) (*models.ProcessingJob, error) {
	if err := b.promoteDue(ctx); err != nil {
		return nil, err
	}

	length, err := b.redisClient.LLen(ctx, b.queueKey).Result()
	if err != nil {
		return nil, videos.Retryable(fmt.Errorf("failed to get queue length: %w", err))
	}
	if length == 0 {
		return nil, nil
	}

	ids, err := b.redisClient.LRange(ctx, b.queueKey, 0, length-1).Result()
	if err != nil {
		return nil, videos.Retryable(fmt.Errorf("failed to range queue: %w", err))
	}

	for _, jobID := range ids {
		locked, err := b.redisClient.SetNX(ctx, b.leaseKey(jobID), 1, lease).Result()
		if err != nil || !locked {
			continue
		}
		data, err := b.redisClient.Get(ctx, b.jobKey(jobID)).Result()
		if err != nil {
			// Payload gone (acked by a racing worker); drop the stale id.
			b.redisClient.LRem(ctx, b.queueKey, 1, jobID)
			b.redisClient.Del(ctx, b.leaseKey(jobID))
			continue
		}
		job := &models.ProcessingJob{}
		if err = json.Unmarshal([]byte(data), job); err != nil {
			b.redisClient.Del(ctx, b.leaseKey(jobID))
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
		}
		return job, nil
	}

	return nil, nil
}

func (b *redisBroker) Ack(ctx context.Context, jobID string) error {
	pipe := b.redisClient.TxPipeline()
	pipe.LRem(ctx, b.queueKey, 1, jobID)
	pipe.Del(ctx, b.jobKey(jobID))
	pipe.Del(ctx, b.leaseKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return videos.Retryable(fmt.Errorf("failed to ack job %s: %w", jobID, err))
	}
	return nil
}

func (b *redisBroker) Nack(ctx context.Context, jobID string) error {
	if err := b.redisClient.Del(ctx, b.leaseKey(jobID)).Err(); err != nil {
		return videos.Retryable(fmt.Errorf("failed to nack job %s: %w", jobID, err))
	}
	return nil
}

func (b *redisBroker) ExtendLease(ctx context.Context, jobID string, lease time.Duration) error {
	ok, err := b.redisClient.Expire(ctx, b.leaseKey(jobID), lease).Result()
	if err != nil {
		return videos.Retryable(fmt.Errorf("failed to extend lease for %s: %w", jobID, err))
	}
	if !ok {
		return fmt.Errorf("lease for job %s: %w", jobID, videos.ErrLeaseExpired)
	}
	return nil
}

func (b *redisBroker) ScheduleRetry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixNano())
	pipe := b.redisClient.TxPipeline()
	pipe.LRem(ctx, b.queueKey, 1, job.JobID)
	pipe.Set(ctx, b.jobKey(job.JobID), data, 0)
	pipe.ZAdd(ctx, b.delayedKey(), &redis.Z{Score: due, Member: job.JobID})
	pipe.Del(ctx, b.leaseKey(job.JobID))
	if _, err = pipe.Exec(ctx); err != nil {
		return videos.Retryable(fmt.Errorf("failed to schedule retry for %s: %w", job.JobID, err))
	}
	return nil
}

func (b *redisBroker) CancelQueued(ctx context.Context, jobID string) error {
	leased, err := b.redisClient.Exists(ctx, b.leaseKey(jobID)).Result()
	if err != nil {
		return videos.Retryable(fmt.Errorf("failed to check lease for %s: %w", jobID, err))
	}
	if leased > 0 {
		return videos.ErrJobLeased
	}
	pipe := b.redisClient.TxPipeline()
	pipe.LRem(ctx, b.queueKey, 1, jobID)
	pipe.ZRem(ctx, b.delayedKey(), jobID)
	pipe.Del(ctx, b.jobKey(jobID))
	if _, err = pipe.Exec(ctx); err != nil {
		return videos.Retryable(fmt.Errorf("failed to cancel job %s: %w", jobID, err))
	}
	return nil
}

// promoteDue moves delayed jobs whose due time has passed back onto the queue.
func (b *redisBroker) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	due, err := b.redisClient.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return videos.Retryable(fmt.Errorf("failed to read delayed jobs: %w", err))
	}
	for _, jobID := range due {
		pipe := b.redisClient.TxPipeline()
		pipe.ZRem(ctx, b.delayedKey(), jobID)
		pipe.RPush(ctx, b.queueKey, jobID)
		if _, err = pipe.Exec(ctx); err != nil {
			return videos.Retryable(fmt.Errorf("failed to promote job %s: %w", jobID, err))
		}
	}
	return nil
}
