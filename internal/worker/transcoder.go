package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

// ffmpegTranscoder shells out to ffmpeg/ffprobe.
type ffmpegTranscoder struct{}

func NewFFmpegTranscoder() Transcoder {
	return &ffmpegTranscoder{}
}

func (t *ffmpegTranscoder) Probe(ctx context.Context, inputPath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height", "-of", "csv=p=0", inputPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe error: %v output: %v", err, string(output))
	}

	trimmed := strings.TrimSpace(string(output))
	trimmed = strings.TrimRight(trimmed, ",")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected ffprobe output: %s", trimmed)
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid width: %v", err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid height: %v", err)
	}

	cmd = exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries",
		"format=duration", "-of", "csv=p=0", inputPath)
	durationOutput, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe duration error: %v", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(durationOutput)), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid duration: %v", err)
	}

	return &MediaInfo{
		Width:    width,
		Height:   height,
		Duration: duration,
	}, nil
}

func (t *ffmpegTranscoder) TranscodeRendition(ctx context.Context, inputPath, outputPath string, tier config.RenditionConfig) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
			tier.Width, tier.Height, tier.Width, tier.Height),
		"-b:v", fmt.Sprintf("%dk", tier.Bitrate),
		"-maxrate", fmt.Sprintf("%dk", tier.Bitrate*12/10),
		"-bufsize", fmt.Sprintf("%dk", tier.Bitrate*2),
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-b:a", "128k",
		"-y", outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return videos.Retryable(fmt.Errorf("ffmpeg transcode %s failed: %v, stderr: %s", tier.Quality, err, stderr.String()))
	}
	return nil
}

func (t *ffmpegTranscoder) ExtractThumbnails(ctx context.Context, inputPath, outputDir string, count int, duration float64) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		// Evenly spaced, avoiding the very first and very last frame.
		ts := duration * float64(i+1) / float64(count+1)
		outputPath := filepath.Join(outputDir, fmt.Sprintf("thumb_%d.jpg", i))

		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-ss", fmt.Sprintf("%.2f", ts),
			"-i", inputPath,
			"-frames:v", "1",
			"-q:v", "3",
			"-y", outputPath,
		)

		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, videos.Retryable(fmt.Errorf("ffmpeg thumbnail %d failed: %v, stderr: %s", i, err, stderr.String()))
		}
		paths = append(paths, outputPath)
	}
	return paths, nil
}

func (t *ffmpegTranscoder) ExtractAudio(ctx context.Context, inputPath, outputPath, bitrate string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		"-y", outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return videos.Retryable(fmt.Errorf("ffmpeg audio extraction failed: %v, stderr: %s", err, stderr.String()))
	}
	return nil
}
