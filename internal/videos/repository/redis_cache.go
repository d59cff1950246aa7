package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

const statusCachePrefix = "video:status:"

type statusCache struct {
	redisClient *redis.Client
}

func NewStatusCache(redisClient *redis.Client) videos.StatusCache {
	return &statusCache{redisClient: redisClient}
}

func (c *statusCache) GetStatus(ctx context.Context, videoID string) (*models.VideoStatusResponse, error) {
	data, err := c.redisClient.Get(ctx, statusCachePrefix+videoID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("statusCache.GetStatus: %w", err)
	}
	status := &models.VideoStatusResponse{}
	if err = json.Unmarshal([]byte(data), status); err != nil {
		return nil, fmt.Errorf("statusCache.GetStatus unmarshal: %w", err)
	}
	return status, nil
}

func (c *statusCache) SetStatus(ctx context.Context, videoID string, status *models.VideoStatusResponse, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("statusCache.SetStatus marshal: %w", err)
	}
	if err = c.redisClient.Set(ctx, statusCachePrefix+videoID, data, ttl).Err(); err != nil {
		return fmt.Errorf("statusCache.SetStatus: %w", err)
	}
	return nil
}

func (c *statusCache) Invalidate(ctx context.Context, videoID string) error {
	if err := c.redisClient.Del(ctx, statusCachePrefix+videoID).Err(); err != nil {
		return fmt.Errorf("statusCache.Invalidate: %w", err)
	}
	return nil
}
