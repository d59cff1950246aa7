package middleware

import (
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
)

type MiddlewareManager struct {
	cfg     *config.Config
	origins []string
	logger  logger.Logger
}

// Middleware manager constructor
func NewMiddlewareManager(cfg *config.Config, origins []string, logger logger.Logger) *MiddlewareManager {
	return &MiddlewareManager{cfg: cfg, origins: origins, logger: logger}
}
