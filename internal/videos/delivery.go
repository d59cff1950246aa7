package videos

import "github.com/labstack/echo/v4"

type Handler interface {
	CreateUpload() echo.HandlerFunc
	AppendChunk() echo.HandlerFunc
	UploadOffset() echo.HandlerFunc
	GetStatus() echo.HandlerFunc
	ListVideos() echo.HandlerFunc
	GetPlaybackInfo() echo.HandlerFunc
	DeleteVideo() echo.HandlerFunc
	Reprocess() echo.HandlerFunc
}
