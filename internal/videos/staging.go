package videos

import (
	"context"
	"io"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
)

// StagingStore accumulates resumable upload chunks until the declared byte
// count has landed. Append is offset-checked: the caller must continue from
// exactly the confirmed offset, which is what makes client/server offset
// divergence detectable.
type StagingStore interface {
	Create(ctx context.Context, session *models.UploadSession) (*models.UploadSession, error)
	Get(ctx context.Context, uploadID string) (*models.UploadSession, error)
	Append(ctx context.Context, uploadID string, offset int64, body io.Reader) (int64, error)
	// Open returns a reader over the fully staged bytes.
	Open(ctx context.Context, uploadID string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, uploadID string) error
}
