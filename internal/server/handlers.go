package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/middleware"
	videoHttp "github.com/yapeepee/phone-music-tracker-sub000/internal/videos/delivery/http"
	videoRepository "github.com/yapeepee/phone-music-tracker-sub000/internal/videos/repository"
	videoUsecase "github.com/yapeepee/phone-music-tracker-sub000/internal/videos/usecase"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

func (s *Server) MapHandlers(e *echo.Echo) error {
	vRepo := videoRepository.NewVideoRepo(s.db)
	vAWSRepo := videoRepository.NewAwsRepository(s.s3Client, s.preSignClient, s.cfg.S3.Bucket)
	vBroker := videoRepository.NewRedisBroker(s.redisClient, s.cfg.Redis.JobQueueKey)
	vCache := videoRepository.NewStatusCache(s.redisClient)
	vStaging, err := videoRepository.NewDiskStaging(s.cfg.Upload.StagingDir)
	if err != nil {
		return err
	}

	videoUC := videoUsecase.NewVideoUseCase(s.cfg, vRepo, vAWSRepo, vBroker, vStaging, vCache, s.logger)
	videoHandlers := videoHttp.NewVideoHandler(videoUC, s.logger)

	mw := middleware.NewMiddlewareManager(s.cfg, []string{"*"}, s.logger)

	v1 := e.Group("/api/v1")
	health := v1.Group("/health")
	uploadGroup := v1.Group("/uploads")
	videoGroup := v1.Group("/videos")

	videoHttp.MapVideoRoutes(uploadGroup, videoGroup, videoHandlers, mw)
	health.GET("", func(c echo.Context) error {
		s.logger.Infof("Health check RequestID: %s", utils.GetRequestID(c))
		return c.JSON(http.StatusOK, map[string]string{"status": "OK"})
	})
	return nil
}
