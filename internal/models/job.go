package models

import "time"

// ProcessingJob is the broker payload tying a queue entry to a VideoRecord.
// The broker guarantees at most one unexpired lease per job; everything else
// about recovery is derived from the VideoRecord status.
type ProcessingJob struct {
	JobID      string    `json:"job_id" validate:"required"`
	VideoID    string    `json:"video_id" validate:"required"`
	OwnerID    string    `json:"owner_id" validate:"required"`
	SourceKey  string    `json:"source_key" validate:"required"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
