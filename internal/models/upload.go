package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadSession tracks one resumable upload on the server side. The client
// addresses it by its own chosen upload id; ReceivedBytes is the confirmed
// offset returned on every accepted chunk.
type UploadSession struct {
	UploadID      string    `json:"upload_id" validate:"required,lte=128"`
	OwnerID       uuid.UUID `json:"owner_id" validate:"omitempty"`
	FileName      string    `json:"file_name" validate:"required,lte=255"`
	TotalBytes    int64     `json:"total_bytes" validate:"required,gt=0"`
	ReceivedBytes int64     `json:"received_bytes"`
	StagingPath   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateUploadInput is the request body for opening an upload session.
type CreateUploadInput struct {
	UploadID   string `json:"upload_id" validate:"required,lte=128"`
	FileName   string `json:"file_name" validate:"required,lte=255"`
	TotalBytes int64  `json:"total_bytes" validate:"required,gt=0"`
}

// UploadCompleteResponse is returned on the final accepted chunk.
type UploadCompleteResponse struct {
	VideoID string      `json:"video_id"`
	Status  VideoStatus `json:"status"`
}
