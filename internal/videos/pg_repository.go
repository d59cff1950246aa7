package videos

import (
	"context"

	"github.com/google/uuid"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// Repository is the durable state store for VideoRecords. Status writes go
// through UpdateStatus, which compare-and-swaps on the expected current
// status so the forward-only transition rule is enforced at the row.
type Repository interface {
	CreateVideo(ctx context.Context, video *models.VideoRecord) (*models.VideoRecord, error)
	GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoRecord, error)
	GetVideos(ctx context.Context, ownerID uuid.UUID, pq *utils.Pagination) (*models.VideoList, error)
	UpdateStatus(ctx context.Context, video *models.VideoRecord, from models.VideoStatus) (*models.VideoRecord, error)
	MarkProcessingStarted(ctx context.Context, videoID uuid.UUID) error
	// ResetForReprocess moves a failed record back to pending, keeping its
	// manifest so finished renditions are not redone.
	ResetForReprocess(ctx context.Context, videoID uuid.UUID) (*models.VideoRecord, error)
	DeleteVideo(ctx context.Context, ownerID, videoID uuid.UUID) error
}
