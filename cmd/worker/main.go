package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	videoRepository "github.com/yapeepee/phone-music-tracker-sub000/internal/videos/repository"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/worker"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/aws"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/postgres"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/redis"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
)

func main() {
	log.Println("Starting transcoding worker")
	cfgFile, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}
	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		log.Fatalf("parseConfig: %v", err)
	}

	appLogger := logger.NewAPILogger(cfg)
	appLogger.InitLogger()
	appLogger.Infof("AppVersion: %s, LogLevel: %s, Workers: %d", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Worker.WorkerCount)

	psqlDB, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to db: %s", err)
	}
	defer psqlDB.Close()

	redisClient, err := redis.NewRedisClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to redis: %s", err)
	}
	defer redisClient.Close()

	s3Client, presignClient, err := aws.NewAWSClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to s3: %s", err)
	}

	videoRepo := videoRepository.NewVideoRepo(psqlDB)
	objectStore := videoRepository.NewAwsRepository(s3Client, presignClient, cfg.S3.Bucket)
	broker := videoRepository.NewRedisBroker(redisClient, cfg.Redis.JobQueueKey)
	statusCache := videoRepository.NewStatusCache(redisClient)

	pipeline := worker.NewPipeline(cfg, videoRepo, objectStore, statusCache, worker.NewFFmpegTranscoder(), appLogger)
	pool := worker.NewPool(cfg, broker, videoRepo, statusCache, pipeline, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		appLogger.Info("shutdown signal received, draining workers")
		cancel()
	}()

	pool.Run(ctx)
	appLogger.Info("worker stopped")
}
