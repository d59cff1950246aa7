package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Postgres DBConfig
	Redis    RedisConfig
	S3       S3Config
	Upload   UploadConfig
	Worker   WorkerConfig
	Pipeline PipelineConfig
	Logger   Logger
}

type ServerConfig struct {
	AppVersion   string
	Port         string
	Mode         string
	JwtSecretKey string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PgDriver string
}

type RedisConfig struct {
	RedisAddr     string
	RedisPassword string
	DB            int
	MinIdleConns  int
	PoolSize      int
	PoolTimeout   int
	JobQueueKey   string
	StatusTTL     time.Duration
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// UploadConfig bounds the ingestion side: chunked upload staging plus the
// limits the client queue is expected to honor.
type UploadConfig struct {
	StagingDir    string
	ChunkSize     int64
	MaxFileBytes  int64
	SessionExpire time.Duration
}

type WorkerConfig struct {
	WorkerCount   int
	MaxCPUUsage   float64
	LeaseDuration time.Duration
	MaxAttempts   int
	RetryBackoff  []time.Duration
	ScratchDir    string
}

// PipelineConfig drives the per-video processing stages.
type PipelineConfig struct {
	Renditions     []RenditionConfig
	ThumbnailCount int
	AudioBitrate   string
}

type RenditionConfig struct {
	Quality string
	Width   int
	Height  int
	Bitrate int
}

type Logger struct {
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
	Encoding          string
	Level             string
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.AddConfigPath(".")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFound) {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Upload.ChunkSize == 0 {
		c.Upload.ChunkSize = 5 << 20
	}
	if c.Upload.StagingDir == "" {
		c.Upload.StagingDir = "tmp_uploads"
	}
	if c.Worker.WorkerCount == 0 {
		c.Worker.WorkerCount = 2
	}
	if c.Worker.LeaseDuration == 0 {
		c.Worker.LeaseDuration = 2 * time.Minute
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if len(c.Worker.RetryBackoff) == 0 {
		c.Worker.RetryBackoff = []time.Duration{
			0,
			5 * time.Second,
			30 * time.Second,
		}
	}
	if c.Worker.ScratchDir == "" {
		c.Worker.ScratchDir = "tmp_scratch"
	}
	if len(c.Pipeline.Renditions) == 0 {
		c.Pipeline.Renditions = []RenditionConfig{
			{Quality: "360p", Width: 640, Height: 360, Bitrate: 800},
			{Quality: "720p", Width: 1280, Height: 720, Bitrate: 2500},
			{Quality: "1080p", Width: 1920, Height: 1080, Bitrate: 5000},
		}
	}
	if c.Pipeline.ThumbnailCount == 0 {
		c.Pipeline.ThumbnailCount = 3
	}
	if c.Pipeline.AudioBitrate == "" {
		c.Pipeline.AudioBitrate = "128k"
	}
	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 30 * time.Second
	}
}
