package videos

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

type UseCase interface {
	// CreateUpload opens a resumable upload session keyed by the client id.
	CreateUpload(ctx context.Context, input *models.CreateUploadInput) (*models.UploadSession, error)
	// AppendChunk appends body at offset. Returns the confirmed offset and,
	// when the final byte lands, the completed video's id and status.
	AppendChunk(ctx context.Context, uploadID string, offset int64, body io.Reader) (int64, *models.UploadCompleteResponse, error)
	// UploadOffset reports the confirmed offset for a session.
	UploadOffset(ctx context.Context, uploadID string) (int64, error)

	GetStatus(ctx context.Context, videoID uuid.UUID) (*models.VideoStatusResponse, error)
	ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error)
	GetPlaybackInfo(ctx context.Context, videoID uuid.UUID) (*models.PlaybackInfo, error)
	DeleteVideo(ctx context.Context, videoID uuid.UUID) error
	// Reprocess re-submits a failed video; finished renditions are kept.
	Reprocess(ctx context.Context, videoID uuid.UUID) (*models.VideoStatusResponse, error)
}
