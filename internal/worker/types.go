package worker

import (
	"context"
	"time"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
)

const (
	pollInterval = 2 * time.Second
	// Progress reached at the end of each stage. Transcoding interpolates
	// between its bounds per finished rendition.
	progressDownloaded  = 0.10
	progressTranscoded  = 0.70
	progressThumbnailed = 0.85
	progressAudio       = 0.95
)

// MediaInfo is what the prober reports about a source file.
type MediaInfo struct {
	Width    int
	Height   int
	Duration float64
}

// Transcoder is the external encoder boundary. The production implementation
// shells out to ffmpeg/ffprobe; tests substitute a fake.
type Transcoder interface {
	Probe(ctx context.Context, inputPath string) (*MediaInfo, error)
	TranscodeRendition(ctx context.Context, inputPath, outputPath string, tier config.RenditionConfig) error
	ExtractThumbnails(ctx context.Context, inputPath, outputDir string, count int, duration float64) ([]string, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath, bitrate string) error
}

// RetryPolicy is the re-enqueue schedule for failed processing attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// Delay returns the wait before re-running the given (1-based) attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Exhausted reports whether attempt already hit the cap.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
