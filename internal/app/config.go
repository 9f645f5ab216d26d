package app

import (
	"time"

	"github.com/yungbote/metagraph-backend/internal/platform/envutil"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

type Config struct {
	RegistryPath      string
	ListenAddr        string
	AllowOrigins      string
	MaxConcurrent     int
	RequestTimeout    time.Duration
	IdempotencyWindow time.Duration
	BootstrapSchema   bool
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		RegistryPath:      envutil.GetEnv("REGISTRY_PATH", "config/registry.yaml", log),
		ListenAddr:        envutil.GetEnv("LISTEN_ADDR", ":8080", log),
		AllowOrigins:      envutil.GetEnv("CORS_ALLOW_ORIGINS", "", log),
		MaxConcurrent:     envutil.GetEnvAsInt("MAX_CONCURRENT_WRITES", 16, log),
		RequestTimeout:    envutil.GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second, log),
		IdempotencyWindow: envutil.GetEnvAsDuration("IDEMPOTENCY_WINDOW", 5*time.Minute, log),
		BootstrapSchema:   envutil.GetEnvAsBool("BOOTSTRAP_SCHEMA", true, log),
	}
}
