package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VideoStatus is the persisted, external-facing processing state of a video.
// The order is significant: a record only ever moves forward through it, or
// to StatusFailed.
type VideoStatus string

const (
	StatusPending         VideoStatus = "pending"
	StatusDownloading     VideoStatus = "downloading"
	StatusTranscoding     VideoStatus = "transcoding"
	StatusThumbnailing    VideoStatus = "thumbnailing"
	StatusExtractingAudio VideoStatus = "extracting_audio"
	StatusCompleted       VideoStatus = "completed"
	StatusFailed          VideoStatus = "failed"
)

var statusOrder = map[VideoStatus]int{
	StatusPending:         0,
	StatusDownloading:     1,
	StatusTranscoding:     2,
	StatusThumbnailing:    3,
	StatusExtractingAudio: 4,
	StatusCompleted:       5,
}

// Terminal reports whether the status admits no further transitions.
func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces forward-only movement through the stage order.
// A same-status transition is allowed so a stage can persist progress without
// leaving it. Failed is reachable from any non-terminal status.
func (s VideoStatus) CanTransitionTo(next VideoStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusOrder[s]
	if !ok {
		return false
	}
	n, ok := statusOrder[next]
	if !ok {
		return false
	}
	return n >= cur
}

type VideoRecord struct {
	VideoID               uuid.UUID       `json:"video_id" db:"video_id" validate:"omitempty"`
	OwnerID               uuid.UUID       `json:"owner_id" db:"owner_id" validate:"omitempty"`
	FileName              string          `json:"file_name" db:"file_name" validate:"required,lte=255"`
	SourceObjectKey       string          `json:"source_object_key" db:"source_object_key" validate:"required,lte=512"`
	SizeBytes             int64           `json:"size_bytes" db:"size_bytes" validate:"required"`
	Status                VideoStatus     `json:"status" db:"status" validate:"omitempty"`
	Progress              float64         `json:"progress" db:"progress" validate:"omitempty,gte=0,lte=1"`
	ResultManifest        *ResultManifest `json:"result_manifest,omitempty" db:"result_manifest"`
	ErrorMessage          string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	ProcessingStartedAt   *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ProcessingCompletedAt *time.Time      `json:"processing_completed_at,omitempty" db:"processing_completed_at"`
}

// Rendition is one transcoded output at a quality tier. Immutable once written.
type Rendition struct {
	Quality   string `json:"quality"`
	ObjectKey string `json:"object_key"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bitrate   int    `json:"bitrate"`
}

// ResultManifest accumulates stage outputs. It is persisted as jsonb so
// partially completed stages survive a worker crash.
type ResultManifest struct {
	Renditions    []Rendition `json:"renditions"`
	ThumbnailKeys []string    `json:"thumbnail_keys"`
	AudioKey      string      `json:"audio_key"`
}

func (m *ResultManifest) HasRendition(quality string) bool {
	if m == nil {
		return false
	}
	for _, r := range m.Renditions {
		if r.Quality == quality {
			return true
		}
	}
	return false
}

func (m ResultManifest) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ResultManifest) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported result_manifest type %T", src)
	}
}

// VideoStatusResponse is the polling contract payload.
type VideoStatusResponse struct {
	VideoID      uuid.UUID       `json:"video_id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Status       VideoStatus     `json:"status"`
	Progress     float64         `json:"progress"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Manifest     *ResultManifest `json:"result_manifest,omitempty"`
}

type VideoList struct {
	Videos     []*VideoRecord `json:"videos"`
	TotalCount int            `json:"total_count"`
	TotalPages int            `json:"total_pages"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	HasMore    bool           `json:"has_more"`
}

// PlaybackInfo carries presigned URLs for everything the pipeline produced.
type PlaybackInfo struct {
	VideoID    uuid.UUID           `json:"video_id"`
	Status     VideoStatus         `json:"status"`
	Renditions []PlaybackRendition `json:"renditions"`
	Thumbnails []string            `json:"thumbnails"`
	AudioURL   string              `json:"audio_url,omitempty"`
}

type PlaybackRendition struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
}
