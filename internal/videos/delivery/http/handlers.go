package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// HeaderUploadOffset carries the confirmed byte offset on every chunk
// exchange; clients resume from whatever the server last confirmed.
const HeaderUploadOffset = "Upload-Offset"

type videoHandler struct {
	videoUC videos.UseCase
	logger  logger.Logger
}

func NewVideoHandler(videoUC videos.UseCase, log logger.Logger) videos.Handler {
	return &videoHandler{
		videoUC: videoUC,
		logger:  log,
	}
}

func (h *videoHandler) CreateUpload() echo.HandlerFunc {
	return func(c echo.Context) error {
		input := &models.CreateUploadInput{}
		if err := c.Bind(input); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		}
		session, err := h.videoUC.CreateUpload(c.Request().Context(), input)
		if err != nil {
			return h.mapError(c, err)
		}
		c.Response().Header().Set(HeaderUploadOffset, strconv.FormatInt(session.ReceivedBytes, 10))
		return c.JSON(http.StatusCreated, session)
	}
}

func (h *videoHandler) AppendChunk() echo.HandlerFunc {
	return func(c echo.Context) error {
		uploadID := c.Param("upload_id")
		offset, err := strconv.ParseInt(c.Request().Header.Get(HeaderUploadOffset), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing or invalid Upload-Offset header"})
		}

		confirmed, complete, err := h.videoUC.AppendChunk(c.Request().Context(), uploadID, offset, c.Request().Body)
		c.Response().Header().Set(HeaderUploadOffset, strconv.FormatInt(confirmed, 10))
		if err != nil {
			return h.mapError(c, err)
		}
		if complete != nil {
			return c.JSON(http.StatusCreated, complete)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (h *videoHandler) UploadOffset() echo.HandlerFunc {
	return func(c echo.Context) error {
		offset, err := h.videoUC.UploadOffset(c.Request().Context(), c.Param("upload_id"))
		if err != nil {
			return h.mapError(c, err)
		}
		c.Response().Header().Set(HeaderUploadOffset, strconv.FormatInt(offset, 10))
		return c.NoContent(http.StatusOK)
	}
}

func (h *videoHandler) GetStatus() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		status, err := h.videoUC.GetStatus(c.Request().Context(), videoID)
		if err != nil {
			return h.mapError(c, err)
		}
		return c.JSON(http.StatusOK, status)
	}
}

func (h *videoHandler) ListVideos() echo.HandlerFunc {
	return func(c echo.Context) error {
		pagination, err := utils.GetPaginationFromCtx(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		list, err := h.videoUC.ListVideos(c.Request().Context(), pagination)
		if err != nil {
			return h.mapError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func (h *videoHandler) GetPlaybackInfo() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		info, err := h.videoUC.GetPlaybackInfo(c.Request().Context(), videoID)
		if err != nil {
			return h.mapError(c, err)
		}
		return c.JSON(http.StatusOK, info)
	}
}

func (h *videoHandler) DeleteVideo() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		if err = h.videoUC.DeleteVideo(c.Request().Context(), videoID); err != nil {
			return h.mapError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Video deleted successfully"})
	}
}

func (h *videoHandler) Reprocess() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		status, err := h.videoUC.Reprocess(c.Request().Context(), videoID)
		if err != nil {
			return h.mapError(c, err)
		}
		return c.JSON(http.StatusAccepted, status)
	}
}

func (h *videoHandler) mapError(c echo.Context, err error) error {
	var contractErr *videos.ContractError
	switch {
	case errors.Is(err, videos.ErrNotFound), errors.Is(err, videos.ErrUploadNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, videos.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, videos.ErrOffsetMismatch):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, videos.ErrUnsupportedFormat):
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
	case errors.Is(err, videos.ErrSizeMismatch), errors.Is(err, videos.ErrEmptyUpload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &contractErr):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorf("handler error RequestID: %s, ERROR: %v", utils.GetRequestID(c), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}
