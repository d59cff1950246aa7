package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// stubUseCase lets each test choose the behavior per call.
type stubUseCase struct {
	createUpload func(context.Context, *models.CreateUploadInput) (*models.UploadSession, error)
	appendChunk  func(context.Context, string, int64, io.Reader) (int64, *models.UploadCompleteResponse, error)
	uploadOffset func(context.Context, string) (int64, error)
	getStatus    func(context.Context, uuid.UUID) (*models.VideoStatusResponse, error)
}

func (s *stubUseCase) CreateUpload(ctx context.Context, input *models.CreateUploadInput) (*models.UploadSession, error) {
	return s.createUpload(ctx, input)
}

func (s *stubUseCase) AppendChunk(ctx context.Context, uploadID string, offset int64, body io.Reader) (int64, *models.UploadCompleteResponse, error) {
	return s.appendChunk(ctx, uploadID, offset, body)
}

func (s *stubUseCase) UploadOffset(ctx context.Context, uploadID string) (int64, error) {
	return s.uploadOffset(ctx, uploadID)
}

func (s *stubUseCase) GetStatus(ctx context.Context, videoID uuid.UUID) (*models.VideoStatusResponse, error) {
	return s.getStatus(ctx, videoID)
}

func (s *stubUseCase) ListVideos(context.Context, *utils.Pagination) (*models.VideoList, error) {
	return &models.VideoList{}, nil
}

func (s *stubUseCase) GetPlaybackInfo(context.Context, uuid.UUID) (*models.PlaybackInfo, error) {
	return &models.PlaybackInfo{}, nil
}

func (s *stubUseCase) DeleteVideo(context.Context, uuid.UUID) error { return nil }

func (s *stubUseCase) Reprocess(context.Context, uuid.UUID) (*models.VideoStatusResponse, error) {
	return &models.VideoStatusResponse{}, nil
}

func newEchoCtx(method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAppendChunkHandler(t *testing.T) {
	t.Run("intermediate chunk returns 204 with the confirmed offset", func(t *testing.T) {
		uc := &stubUseCase{
			appendChunk: func(_ context.Context, uploadID string, offset int64, _ io.Reader) (int64, *models.UploadCompleteResponse, error) {
				assert.Equal(t, "u1", uploadID)
				assert.Equal(t, int64(0), offset)
				return 5, nil, nil
			},
		}
		h := NewVideoHandler(uc, logger.NewNopLogger())

		c, rec := newEchoCtx(http.MethodPatch, "/api/v1/uploads/u1", strings.NewReader("hello"))
		c.Request().Header.Set(HeaderUploadOffset, "0")
		c.SetParamNames("upload_id")
		c.SetParamValues("u1")

		require.NoError(t, h.AppendChunk()(c))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "5", rec.Header().Get(HeaderUploadOffset))
	})

	t.Run("final chunk returns 201 with the video id", func(t *testing.T) {
		uc := &stubUseCase{
			appendChunk: func(context.Context, string, int64, io.Reader) (int64, *models.UploadCompleteResponse, error) {
				return 10, &models.UploadCompleteResponse{VideoID: "vid-1", Status: models.StatusPending}, nil
			},
		}
		h := NewVideoHandler(uc, logger.NewNopLogger())

		c, rec := newEchoCtx(http.MethodPatch, "/api/v1/uploads/u1", strings.NewReader("world"))
		c.Request().Header.Set(HeaderUploadOffset, "5")
		c.SetParamNames("upload_id")
		c.SetParamValues("u1")

		require.NoError(t, h.AppendChunk()(c))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), "vid-1")
	})

	t.Run("offset mismatch returns 409 and still carries the confirmed offset", func(t *testing.T) {
		uc := &stubUseCase{
			appendChunk: func(context.Context, string, int64, io.Reader) (int64, *models.UploadCompleteResponse, error) {
				return 5, nil, videos.ErrOffsetMismatch
			},
		}
		h := NewVideoHandler(uc, logger.NewNopLogger())

		c, rec := newEchoCtx(http.MethodPatch, "/api/v1/uploads/u1", strings.NewReader("dup"))
		c.Request().Header.Set(HeaderUploadOffset, "0")
		c.SetParamNames("upload_id")
		c.SetParamValues("u1")

		require.NoError(t, h.AppendChunk()(c))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "5", rec.Header().Get(HeaderUploadOffset))
	})

	t.Run("missing offset header is a 400", func(t *testing.T) {
		h := NewVideoHandler(&stubUseCase{}, logger.NewNopLogger())

		c, rec := newEchoCtx(http.MethodPatch, "/api/v1/uploads/u1", strings.NewReader("x"))
		c.SetParamNames("upload_id")
		c.SetParamValues("u1")

		require.NoError(t, h.AppendChunk()(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadOffsetHandler(t *testing.T) {
	uc := &stubUseCase{
		uploadOffset: func(_ context.Context, uploadID string) (int64, error) {
			if uploadID != "u1" {
				return 0, videos.ErrUploadNotFound
			}
			return 42, nil
		},
	}
	h := NewVideoHandler(uc, logger.NewNopLogger())

	t.Run("known session", func(t *testing.T) {
		c, rec := newEchoCtx(http.MethodHead, "/api/v1/uploads/u1", nil)
		c.SetParamNames("upload_id")
		c.SetParamValues("u1")

		require.NoError(t, h.UploadOffset()(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "42", rec.Header().Get(HeaderUploadOffset))
	})

	t.Run("unknown session", func(t *testing.T) {
		c, rec := newEchoCtx(http.MethodHead, "/api/v1/uploads/gone", nil)
		c.SetParamNames("upload_id")
		c.SetParamValues("gone")

		require.NoError(t, h.UploadOffset()(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", videos.ErrNotFound, http.StatusNotFound},
		{"forbidden", videos.ErrForbidden, http.StatusForbidden},
		{"unsupported format", videos.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"size mismatch", videos.ErrSizeMismatch, http.StatusBadRequest},
		{"empty upload", videos.ErrEmptyUpload, http.StatusBadRequest},
		{"contract violation", &videos.ContractError{Op: "x", Detail: "y"}, http.StatusConflict},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{
				getStatus: func(context.Context, uuid.UUID) (*models.VideoStatusResponse, error) {
					return nil, tc.err
				},
			}
			h := NewVideoHandler(uc, logger.NewNopLogger())

			c, rec := newEchoCtx(http.MethodGet, "/api/v1/videos/x/status", nil)
			c.SetParamNames("video_id")
			c.SetParamValues(uuid.New().String())

			require.NoError(t, h.GetStatus()(c))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestGetStatusHandlerRejectsBadID(t *testing.T) {
	h := NewVideoHandler(&stubUseCase{}, logger.NewNopLogger())

	c, rec := newEchoCtx(http.MethodGet, "/api/v1/videos/not-a-uuid/status", nil)
	c.SetParamNames("video_id")
	c.SetParamValues("not-a-uuid")

	require.NoError(t, h.GetStatus()(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
