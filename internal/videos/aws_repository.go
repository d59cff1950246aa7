package videos

import (
	"context"
	"io"
	"time"
)

// ObjectStore abstracts the blob store. Keys follow the fixed layout
// videos/original, videos/transcoded/{quality}, videos/thumbnails, videos/audio
// built by pkg/utils key helpers.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
