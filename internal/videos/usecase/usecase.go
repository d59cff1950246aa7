package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

const (
	presignExpiry  = 60 * time.Minute
	sniffHeaderLen = 12
)

type videoUC struct {
	cfg       *config.Config
	videoRepo videos.Repository
	objects   videos.ObjectStore
	broker    videos.Broker
	staging   videos.StagingStore
	cache     videos.StatusCache
	logger    logger.Logger
}

func NewVideoUseCase(
	cfg *config.Config,
	videoRepo videos.Repository,
	objects videos.ObjectStore,
	broker videos.Broker,
	staging videos.StagingStore,
	cache videos.StatusCache,
	log logger.Logger,
) videos.UseCase {
	return &videoUC{
		cfg:       cfg,
		videoRepo: videoRepo,
		objects:   objects,
		broker:    broker,
		staging:   staging,
		cache:     cache,
		logger:    log,
	}
}

func (v *videoUC) CreateUpload(ctx context.Context, input *models.CreateUploadInput) (*models.UploadSession, error) {
	user, err := utils.GetUserFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err = utils.ValidateStruct(ctx, input); err != nil {
		v.logger.Errorf("CreateUpload - ValidateStruct error: %v", err)
		return nil, fmt.Errorf("%w: %v", videos.ErrEmptyUpload, err)
	}
	if v.cfg.Upload.MaxFileBytes > 0 && input.TotalBytes > v.cfg.Upload.MaxFileBytes {
		return nil, videos.ErrSizeMismatch
	}
	if !utils.IsSupportedContainer(input.FileName) {
		return nil, videos.ErrUnsupportedFormat
	}
	session, err := v.staging.Create(ctx, &models.UploadSession{
		UploadID:   input.UploadID,
		OwnerID:    user.UserID,
		FileName:   input.FileName,
		TotalBytes: input.TotalBytes,
	})
	if err != nil {
		v.logger.Errorf("CreateUpload - staging error: %v", err)
		return nil, err
	}
	return session, nil
}

func (v *videoUC) AppendChunk(ctx context.Context, uploadID string, offset int64, body io.Reader) (int64, *models.UploadCompleteResponse, error) {
	confirmed, err := v.staging.Append(ctx, uploadID, offset, body)
	if err != nil {
		return confirmed, nil, err
	}

	session, err := v.staging.Get(ctx, uploadID)
	if err != nil {
		return confirmed, nil, err
	}
	if session.ReceivedBytes < session.TotalBytes {
		return confirmed, nil, nil
	}

	complete, err := v.finalizeUpload(ctx, session)
	if err != nil {
		return confirmed, nil, err
	}
	return confirmed, complete, nil
}

func (v *videoUC) UploadOffset(ctx context.Context, uploadID string) (int64, error) {
	session, err := v.staging.Get(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	return session.ReceivedBytes, nil
}

// finalizeUpload runs once the staged size matches the declared size: it
// verifies the container, persists the original object, and creates the
// VideoRecord together with its ProcessingJob. The record is compensated away
// if the enqueue fails so the two stay in step.
func (v *videoUC) finalizeUpload(ctx context.Context, session *models.UploadSession) (*models.UploadCompleteResponse, error) {
	reader, stagedSize, err := v.staging.Open(ctx, session.UploadID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	if stagedSize == 0 {
		return nil, videos.ErrEmptyUpload
	}
	if stagedSize != session.TotalBytes {
		return nil, videos.ErrSizeMismatch
	}

	header := make([]byte, sniffHeaderLen)
	if _, err = io.ReadFull(reader, header); err != nil {
		return nil, videos.ErrUnsupportedFormat
	}
	if !utils.SniffContainer(header) {
		return nil, videos.ErrUnsupportedFormat
	}

	videoID := uuid.New()
	sourceKey := utils.OriginalKey(videoID.String(), session.FileName)

	if err = v.objects.PutObject(ctx, sourceKey, io.MultiReader(bytes.NewReader(header), reader), stagedSize, "video/mp4"); err != nil {
		v.logger.Errorf("finalizeUpload - PutObject error: %v", err)
		return nil, err
	}

	record, err := v.videoRepo.CreateVideo(ctx, &models.VideoRecord{
		VideoID:         videoID,
		OwnerID:         session.OwnerID,
		FileName:        session.FileName,
		SourceObjectKey: sourceKey,
		SizeBytes:       stagedSize,
	})
	if err != nil {
		v.logger.Errorf("finalizeUpload - CreateVideo error: %v", err)
		return nil, err
	}

	// One job per video, so the job id is the video id. That keeps the
	// single-lease-per-video invariant and cancel-by-video O(1).
	job := &models.ProcessingJob{
		JobID:      record.VideoID.String(),
		VideoID:    record.VideoID.String(),
		OwnerID:    record.OwnerID.String(),
		SourceKey:  sourceKey,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	if err = v.broker.Enqueue(ctx, job); err != nil {
		v.logger.Errorf("finalizeUpload - Enqueue error: %v", err)
		if delErr := v.videoRepo.DeleteVideo(ctx, record.OwnerID, record.VideoID); delErr != nil {
			v.logger.Errorf("finalizeUpload - compensation delete failed: %v", delErr)
		}
		return nil, fmt.Errorf("failed to queue processing job: %w", err)
	}

	if err = v.staging.Remove(ctx, session.UploadID); err != nil {
		v.logger.Warnf("finalizeUpload - staging cleanup: %v", err)
	}

	v.logger.Infof("video %s ingested (%d bytes), job %s queued", record.VideoID, stagedSize, job.JobID)
	return &models.UploadCompleteResponse{
		VideoID: record.VideoID.String(),
		Status:  record.Status,
	}, nil
}

func (v *videoUC) GetStatus(ctx context.Context, videoID uuid.UUID) (*models.VideoStatusResponse, error) {
	user, err := utils.GetUserFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	// The cached entry carries the owner so the ownership check survives
	// the read-through path.
	if cached, err := v.cache.GetStatus(ctx, videoID.String()); err == nil && cached != nil {
		if cached.OwnerID != user.UserID {
			return nil, videos.ErrForbidden
		}
		return cached, nil
	}

	record, err := v.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != user.UserID {
		return nil, videos.ErrForbidden
	}
	status := statusResponse(record)

	if err = v.cache.SetStatus(ctx, videoID.String(), status, v.cfg.Redis.StatusTTL); err != nil {
		v.logger.Warnf("GetStatus - cache set: %v", err)
	}
	return status, nil
}

func (v *videoUC) ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error) {
	user, err := utils.GetUserFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if pq == nil {
		pq = &utils.Pagination{Page: 1, Size: 10}
	}
	if pq.Page < 1 {
		pq.Page = 1
	}
	if pq.Size < 1 || pq.Size > 100 {
		pq.Size = 10
	}
	return v.videoRepo.GetVideos(ctx, user.UserID, pq)
}

func (v *videoUC) GetPlaybackInfo(ctx context.Context, videoID uuid.UUID) (*models.PlaybackInfo, error) {
	record, err := v.ownedVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	info := &models.PlaybackInfo{
		VideoID: record.VideoID,
		Status:  record.Status,
	}
	if record.ResultManifest == nil {
		return info, nil
	}

	for _, r := range record.ResultManifest.Renditions {
		url, err := v.objects.PresignGet(ctx, r.ObjectKey, presignExpiry)
		if err != nil {
			return nil, err
		}
		info.Renditions = append(info.Renditions, models.PlaybackRendition{
			Quality: r.Quality,
			URL:     url,
			Width:   r.Width,
			Height:  r.Height,
			Bitrate: r.Bitrate,
		})
	}
	for _, key := range record.ResultManifest.ThumbnailKeys {
		url, err := v.objects.PresignGet(ctx, key, presignExpiry)
		if err != nil {
			return nil, err
		}
		info.Thumbnails = append(info.Thumbnails, url)
	}
	if record.ResultManifest.AudioKey != "" {
		url, err := v.objects.PresignGet(ctx, record.ResultManifest.AudioKey, presignExpiry)
		if err != nil {
			return nil, err
		}
		info.AudioURL = url
	}
	return info, nil
}

func (v *videoUC) DeleteVideo(ctx context.Context, videoID uuid.UUID) error {
	record, err := v.ownedVideo(ctx, videoID)
	if err != nil {
		return err
	}

	// A queued job can be withdrawn; a leased one cannot be interrupted.
	if !record.Status.Terminal() {
		if err = v.broker.CancelQueued(ctx, videoID.String()); err != nil && err != videos.ErrJobLeased {
			v.logger.Warnf("DeleteVideo - cancel job: %v", err)
		}
	}

	if err = v.videoRepo.DeleteVideo(ctx, record.OwnerID, record.VideoID); err != nil {
		return err
	}
	if err = v.cache.Invalidate(ctx, videoID.String()); err != nil {
		v.logger.Warnf("DeleteVideo - cache invalidate: %v", err)
	}

	v.deleteObjects(ctx, record)
	return nil
}

func (v *videoUC) Reprocess(ctx context.Context, videoID uuid.UUID) (*models.VideoStatusResponse, error) {
	record, err := v.ownedVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusFailed {
		return nil, &videos.ContractError{
			Op:     "Reprocess",
			Detail: "only failed videos can be re-submitted",
		}
	}

	record, err = v.videoRepo.ResetForReprocess(ctx, videoID)
	if err != nil {
		return nil, err
	}

	job := &models.ProcessingJob{
		JobID:      record.VideoID.String(),
		VideoID:    record.VideoID.String(),
		OwnerID:    record.OwnerID.String(),
		SourceKey:  record.SourceObjectKey,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	if err = v.broker.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue reprocess job: %w", err)
	}
	if err = v.cache.Invalidate(ctx, videoID.String()); err != nil {
		v.logger.Warnf("Reprocess - cache invalidate: %v", err)
	}
	return statusResponse(record), nil
}

func (v *videoUC) ownedVideo(ctx context.Context, videoID uuid.UUID) (*models.VideoRecord, error) {
	user, err := utils.GetUserFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	record, err := v.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != user.UserID {
		return nil, videos.ErrForbidden
	}
	return record, nil
}

func (v *videoUC) deleteObjects(ctx context.Context, record *models.VideoRecord) {
	if err := v.objects.DeleteObject(ctx, record.SourceObjectKey); err != nil {
		v.logger.Warnf("deleteObjects - source: %v", err)
	}
	if record.ResultManifest == nil {
		return
	}
	for _, r := range record.ResultManifest.Renditions {
		if err := v.objects.DeleteObject(ctx, r.ObjectKey); err != nil {
			v.logger.Warnf("deleteObjects - rendition %s: %v", r.Quality, err)
		}
	}
	if err := v.objects.DeletePrefix(ctx, utils.ThumbnailPrefix(record.VideoID.String())); err != nil {
		v.logger.Warnf("deleteObjects - thumbnails: %v", err)
	}
	if record.ResultManifest.AudioKey != "" {
		if err := v.objects.DeleteObject(ctx, record.ResultManifest.AudioKey); err != nil {
			v.logger.Warnf("deleteObjects - audio: %v", err)
		}
	}
}

func statusResponse(record *models.VideoRecord) *models.VideoStatusResponse {
	resp := &models.VideoStatusResponse{
		VideoID:      record.VideoID,
		OwnerID:      record.OwnerID,
		Status:       record.Status,
		Progress:     record.Progress,
		StartedAt:    record.ProcessingStartedAt,
		ErrorMessage: record.ErrorMessage,
	}
	if record.Status == models.StatusCompleted {
		resp.Manifest = record.ResultManifest
	}
	return resp
}
