package http

import (
	"github.com/labstack/echo/v4"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/middleware"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

func MapVideoRoutes(uploadGroup, videoGroup *echo.Group, h videos.Handler, mw *middleware.MiddlewareManager) {
	uploadGroup.Use(mw.AuthJWTMiddleware())
	uploadGroup.POST("", h.CreateUpload())
	uploadGroup.PATCH("/:upload_id", h.AppendChunk())
	uploadGroup.HEAD("/:upload_id", h.UploadOffset())

	videoGroup.Use(mw.AuthJWTMiddleware())
	videoGroup.GET("", h.ListVideos())
	videoGroup.GET("/:video_id/status", h.GetStatus())
	videoGroup.GET("/:video_id/playback", h.GetPlaybackInfo())
	videoGroup.DELETE("/:video_id", h.DeleteVideo())
	videoGroup.POST("/:video_id/reprocess", h.Reprocess())
}
