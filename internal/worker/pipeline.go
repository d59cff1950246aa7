package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// Pipeline drives one video through the stage order. Every stage takes the
// current record snapshot and persists the next one before moving on, so a
// worker crash resumes at the start of the interrupted stage rather than the
// start of the job.
type Pipeline struct {
	cfg        *config.Config
	videoRepo  videos.Repository
	objects    videos.ObjectStore
	cache      videos.StatusCache
	transcoder Transcoder
	logger     logger.Logger
}

func NewPipeline(
	cfg *config.Config,
	videoRepo videos.Repository,
	objects videos.ObjectStore,
	cache videos.StatusCache,
	transcoder Transcoder,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		videoRepo:  videoRepo,
		objects:    objects,
		cache:      cache,
		transcoder: transcoder,
		logger:     log,
	}
}

// Run executes the pipeline for job until the record is terminal. The
// returned error is nil only when the record reached completed; the caller
// decides between retry and permanent failure from the error class.
func (p *Pipeline) Run(ctx context.Context, job *models.ProcessingJob) error {
	videoID, err := uuid.Parse(job.VideoID)
	if err != nil {
		return &videos.ContractError{Op: "Pipeline.Run", Detail: "job without a valid video id"}
	}

	record, err := p.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		return err
	}

	defer p.cleanupScratch(job.VideoID)

	for !record.Status.Terminal() {
		record, err = p.runStage(ctx, record, job)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, record *models.VideoRecord, job *models.ProcessingJob) (*models.VideoRecord, error) {
	switch record.Status {
	case models.StatusPending:
		if err := p.videoRepo.MarkProcessingStarted(ctx, record.VideoID); err != nil {
			return nil, err
		}
		return p.persist(ctx, record, models.StatusDownloading, record.Progress, nil)

	case models.StatusDownloading:
		if _, err := p.ensureSource(ctx, record); err != nil {
			return nil, err
		}
		return p.persist(ctx, record, models.StatusTranscoding, progressDownloaded, nil)

	case models.StatusTranscoding:
		manifest, err := p.transcodeRenditions(ctx, record)
		if err != nil {
			return nil, err
		}
		return p.persist(ctx, record, models.StatusThumbnailing, progressTranscoded, manifest)

	case models.StatusThumbnailing:
		manifest, err := p.extractThumbnails(ctx, record)
		if err != nil {
			return nil, err
		}
		return p.persist(ctx, record, models.StatusExtractingAudio, progressThumbnailed, manifest)

	case models.StatusExtractingAudio:
		manifest, err := p.extractAudio(ctx, record)
		if err != nil {
			return nil, err
		}
		// The audio boundary is written before the completion write so the
		// status API can observe it.
		record, err = p.persist(ctx, record, models.StatusExtractingAudio, progressAudio, manifest)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		record.ProcessingCompletedAt = &now
		return p.persist(ctx, record, models.StatusCompleted, 1.0, manifest)

	default:
		return nil, &videos.ContractError{
			Op:     "Pipeline.runStage",
			Detail: fmt.Sprintf("video %s in unexpected status %s", record.VideoID, record.Status),
		}
	}
}

// persist writes the stage transition and invalidates the status cache.
func (p *Pipeline) persist(ctx context.Context, record *models.VideoRecord, next models.VideoStatus, progress float64, manifest *models.ResultManifest) (*models.VideoRecord, error) {
	from := record.Status
	record.Status = next
	record.Progress = progress
	if manifest != nil {
		record.ResultManifest = manifest
	}
	updated, err := p.videoRepo.UpdateStatus(ctx, record, from)
	if err != nil {
		return nil, err
	}
	if err = p.cache.Invalidate(ctx, updated.VideoID.String()); err != nil {
		p.logger.Warnf("pipeline cache invalidate: %v", err)
	}
	p.logger.Infof("video %s: %s -> %s (progress %.2f)", updated.VideoID, from, next, updated.Progress)
	return updated, nil
}

func (p *Pipeline) scratchDir(videoID string) string {
	return filepath.Join(p.cfg.Worker.ScratchDir, videoID)
}

func (p *Pipeline) sourcePath(record *models.VideoRecord) string {
	return filepath.Join(p.scratchDir(record.VideoID.String()), "source"+filepath.Ext(record.FileName))
}

// ensureSource guarantees the original bytes are on local disk, re-fetching
// from the object store if the scratch copy is missing or truncated. That is
// what lets later stages resume after a crash without re-running the
// downloading stage in the state machine.
func (p *Pipeline) ensureSource(ctx context.Context, record *models.VideoRecord) (string, error) {
	localPath := p.sourcePath(record)
	if info, err := os.Stat(localPath); err == nil && info.Size() == record.SizeBytes {
		return localPath, nil
	}

	if err := os.MkdirAll(p.scratchDir(record.VideoID.String()), 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	body, _, err := p.objects.GetObject(ctx, record.SourceObjectKey)
	if err != nil {
		return "", err
	}
	defer body.Close()

	outFile, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local source file: %w", err)
	}
	written, err := io.Copy(outFile, body)
	closeErr := outFile.Close()
	if err != nil {
		return "", videos.Retryable(fmt.Errorf("failed to write source file: %w", err))
	}
	if closeErr != nil {
		return "", videos.Retryable(fmt.Errorf("failed to flush source file: %w", closeErr))
	}
	if written != record.SizeBytes {
		return "", videos.ErrSourceMissing
	}
	return localPath, nil
}

// transcodeRenditions produces every configured tier that the manifest does
// not already record, persisting after each one so a retry never redoes
// finished renditions.
func (p *Pipeline) transcodeRenditions(ctx context.Context, record *models.VideoRecord) (*models.ResultManifest, error) {
	sourcePath, err := p.ensureSource(ctx, record)
	if err != nil {
		return nil, err
	}

	manifest := record.ResultManifest
	if manifest == nil {
		manifest = &models.ResultManifest{}
	}

	total := len(p.cfg.Pipeline.Renditions)
	for i, tier := range p.cfg.Pipeline.Renditions {
		if manifest.HasRendition(tier.Quality) {
			continue
		}

		outputPath := filepath.Join(p.scratchDir(record.VideoID.String()), tier.Quality+".mp4")
		if err = p.transcoder.TranscodeRendition(ctx, sourcePath, outputPath, tier); err != nil {
			return nil, err
		}

		key := utils.RenditionKey(tier.Quality, record.VideoID.String())
		if err = p.uploadFile(ctx, outputPath, key, "video/mp4"); err != nil {
			return nil, err
		}

		manifest.Renditions = append(manifest.Renditions, models.Rendition{
			Quality:   tier.Quality,
			ObjectKey: key,
			Width:     tier.Width,
			Height:    tier.Height,
			Bitrate:   tier.Bitrate,
		})

		// Persist the partial manifest and scale progress across tiers.
		progress := progressDownloaded + (progressTranscoded-progressDownloaded)*float64(i+1)/float64(total)
		record.ResultManifest = manifest
		record.Progress = progress
		updated, err := p.videoRepo.UpdateStatus(ctx, record, record.Status)
		if err != nil {
			return nil, err
		}
		*record = *updated
		if err = p.cache.Invalidate(ctx, record.VideoID.String()); err != nil {
			p.logger.Warnf("pipeline cache invalidate: %v", err)
		}
	}
	return manifest, nil
}

func (p *Pipeline) extractThumbnails(ctx context.Context, record *models.VideoRecord) (*models.ResultManifest, error) {
	sourcePath, err := p.ensureSource(ctx, record)
	if err != nil {
		return nil, err
	}

	manifest := record.ResultManifest
	if manifest == nil {
		manifest = &models.ResultManifest{}
	}
	if len(manifest.ThumbnailKeys) >= p.cfg.Pipeline.ThumbnailCount {
		return manifest, nil
	}

	info, err := p.transcoder.Probe(ctx, sourcePath)
	if err != nil {
		return nil, videos.Retryable(err)
	}

	thumbDir := filepath.Join(p.scratchDir(record.VideoID.String()), "thumbs")
	paths, err := p.transcoder.ExtractThumbnails(ctx, sourcePath, thumbDir, p.cfg.Pipeline.ThumbnailCount, info.Duration)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(paths))
	for i, path := range paths {
		key := utils.ThumbnailKey(record.VideoID.String(), i)
		if err = p.uploadFile(ctx, path, key, "image/jpeg"); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	manifest.ThumbnailKeys = keys
	return manifest, nil
}

func (p *Pipeline) extractAudio(ctx context.Context, record *models.VideoRecord) (*models.ResultManifest, error) {
	manifest := record.ResultManifest
	if manifest == nil {
		manifest = &models.ResultManifest{}
	}
	if manifest.AudioKey != "" {
		return manifest, nil
	}

	sourcePath, err := p.ensureSource(ctx, record)
	if err != nil {
		return nil, err
	}

	outputPath := filepath.Join(p.scratchDir(record.VideoID.String()), "audio.mp3")
	if err = p.transcoder.ExtractAudio(ctx, sourcePath, outputPath, p.cfg.Pipeline.AudioBitrate); err != nil {
		return nil, err
	}

	key := utils.AudioKey(record.VideoID.String())
	if err = p.uploadFile(ctx, outputPath, key, "audio/mpeg"); err != nil {
		return nil, err
	}
	manifest.AudioKey = key
	return manifest, nil
}

func (p *Pipeline) uploadFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return p.objects.PutObject(ctx, key, f, info.Size(), contentType)
}

func (p *Pipeline) cleanupScratch(videoID string) {
	if err := os.RemoveAll(p.scratchDir(videoID)); err != nil {
		p.logger.Warnf("failed to clean scratch for %s: %v", videoID, err)
	}
}
