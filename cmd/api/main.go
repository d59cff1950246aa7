package main

import (
	"log"

	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/server"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/aws"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/postgres"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/db/redis"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
)

func main() {
	log.Println("Starting API server")
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
	appLogger.Infof("AppVersion: %s, LogLevel: %s, Mode: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode)

	psqlDB, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to db: %s", err)
	}
	defer psqlDB.Close()
	appLogger.Infof("db connected, status: %#v", psqlDB.Stats())

	redisClient, err := redis.NewRedisClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to redis: %s", err)
	}
	defer redisClient.Close()
	appLogger.Info("redis connected")

	s3Client, presignClient, err := aws.NewAWSClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to s3: %s", err)
	}

	s := server.NewServer(cfg, psqlDB, redisClient, s3Client, presignClient, appLogger)
	if err = s.Run(); err != nil {
		appLogger.Fatalf("could not start server: %s", err)
	}
}
