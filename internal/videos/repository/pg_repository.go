package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

type videoRepo struct {
	db *sqlx.DB
}

func NewVideoRepo(db *sqlx.DB) videos.Repository {
	return &videoRepo{
		db: db,
	}
}

func (v *videoRepo) CreateVideo(ctx context.Context, record *models.VideoRecord) (*models.VideoRecord, error) {
	created := &models.VideoRecord{}
	if err := v.db.QueryRowxContext(
		ctx,
		createVideoQuery,
		record.VideoID,
		record.OwnerID,
		record.FileName,
		record.SourceObjectKey,
		record.SizeBytes,
		models.StatusPending,
	).StructScan(created); err != nil {
		return nil, errors.Wrap(err, "videoRepo.CreateVideo")
	}
	return created, nil
}

func (v *videoRepo) GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoRecord, error) {
	record := &models.VideoRecord{}
	if err := v.db.QueryRowxContext(
		ctx,
		getVideoByIDQuery,
		videoID,
	).StructScan(record); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, videos.ErrNotFound
		}
		return nil, errors.Wrap(err, "videoRepo.GetVideoByID")
	}
	return record, nil
}

func (v *videoRepo) GetVideos(ctx context.Context, ownerID uuid.UUID, pq *utils.Pagination) (*models.VideoList, error) {
	var totalCount int
	if err := v.db.GetContext(
		ctx,
		&totalCount,
		getTotalVideosByOwnerQuery,
		ownerID,
	); err != nil {
		return nil, errors.Wrap(err, "videoRepo.GetVideos.count")
	}
	if totalCount == 0 {
		return &models.VideoList{
			Videos:     make([]*models.VideoRecord, 0),
			TotalCount: 0,
			TotalPages: 0,
			Page:       pq.GetPage(),
			PageSize:   pq.GetSize(),
			HasMore:    false,
		}, nil
	}
	rows, err := v.db.QueryxContext(
		ctx,
		getVideosByOwnerQuery,
		ownerID,
		pq.GetOffset(),
		pq.GetLimit(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "videoRepo.GetVideos")
	}
	defer rows.Close()
	records := make([]*models.VideoRecord, 0, pq.GetSize())
	for rows.Next() {
		var record models.VideoRecord
		if err = rows.StructScan(&record); err != nil {
			return nil, errors.Wrap(err, "videoRepo.GetVideos.scan")
		}
		records = append(records, &record)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "videoRepo.GetVideos.rows")
	}
	return &models.VideoList{
		Videos:     records,
		TotalCount: totalCount,
		TotalPages: utils.GetTotalPages(totalCount, pq.GetSize()),
		Page:       pq.GetPage(),
		PageSize:   pq.GetSize(),
		HasMore:    utils.GetHasMore(pq.GetPage(), totalCount, pq.GetSize()),
	}, nil
}

func (v *videoRepo) UpdateStatus(ctx context.Context, record *models.VideoRecord, from models.VideoStatus) (*models.VideoRecord, error) {
	if !from.CanTransitionTo(record.Status) {
		return nil, &videos.ContractError{
			Op:     "videoRepo.UpdateStatus",
			Detail: string(from) + " cannot move to " + string(record.Status),
		}
	}
	updated := &models.VideoRecord{}
	if err := v.db.QueryRowxContext(
		ctx,
		updateStatusQuery,
		record.VideoID,
		record.Status,
		record.Progress,
		record.ResultManifest,
		record.ErrorMessage,
		record.ProcessingCompletedAt,
		from,
	).StructScan(updated); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			// Row moved out from under us: the expected status no longer
			// matches, which means another writer got there first.
			return nil, errors.Wrapf(videos.ErrStaleRecord, "videoRepo.UpdateStatus: record no longer in status %s", from)
		}
		return nil, errors.Wrap(err, "videoRepo.UpdateStatus")
	}
	return updated, nil
}

func (v *videoRepo) MarkProcessingStarted(ctx context.Context, videoID uuid.UUID) error {
	if _, err := v.db.ExecContext(ctx, markProcessingStartedQuery, videoID); err != nil {
		return errors.Wrap(err, "videoRepo.MarkProcessingStarted")
	}
	return nil
}

func (v *videoRepo) ResetForReprocess(ctx context.Context, videoID uuid.UUID) (*models.VideoRecord, error) {
	record := &models.VideoRecord{}
	if err := v.db.QueryRowxContext(
		ctx,
		resetForReprocessQuery,
		videoID,
		models.StatusPending,
		models.StatusFailed,
	).StructScan(record); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, videos.ErrNotFound
		}
		return nil, errors.Wrap(err, "videoRepo.ResetForReprocess")
	}
	return record, nil
}

func (v *videoRepo) DeleteVideo(ctx context.Context, ownerID, videoID uuid.UUID) error {
	res, err := v.db.ExecContext(
		ctx,
		deleteVideoQuery,
		videoID,
		ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "videoRepo.DeleteVideo")
	}
	count, _ := res.RowsAffected()
	if count == 0 {
		return videos.ErrNotFound
	}
	return nil
}
