// Package cli holds the startup steps shared by cmd/paytrack and
// cmd/paytrack-worker.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paytrack/internal/amqp"
	"paytrack/internal/backend"
	"paytrack/internal/cache"
	"paytrack/internal/config"
	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/ocr"
)

const clientCacheSize = 1024

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// MustValidate exits the process when validate reports a problem.
func MustValidate(logger *log.Logger, validate func() error) {
	if err := validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
}

// InitBackend opens the configured store or exits.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bc)
	if err != nil {
		logger.Error("Failed to initialize backend", "backend", bc.Type.String(), log.FieldError, err)
		os.Exit(1)
	}
	return res
}

// InitClientCache picks redis when REDIS_ADDR is set and reachable, the
// in-process LRU otherwise. The returned stop func releases either.
func InitClientCache(ctx context.Context, logger *log.Logger, cfg *config.Config) (cache.Cache[core.Client], func()) {
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err == nil {
			logger.Info("Using redis client cache", "addr", cfg.RedisAddr, "ttl", cfg.ClientCacheTTL)
			return cache.NewRedisCache[core.Client](client, "paytrack:client:", cfg.ClientCacheTTL, logger),
				func() { client.Close() }
		}
		logger.Warn("Redis unavailable, falling back to in-process cache", log.FieldError, err)
	}

	lru := cache.NewLRUCache[core.Client](clientCacheSize, cfg.ClientCacheTTL)
	janitor := cache.NewJanitor(logger)
	janitor.Register(lru)
	janitor.Start(cfg.ClientCacheTTL)
	return lru, janitor.Stop
}

// InitAMQP connects to the broker. It returns nil when AMQP is not
// configured or unreachable; callers treat publishing as optional.
func InitAMQP(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP not configured, review events and push hints disabled")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// InitOCR builds the proof analyzer. Without GEMINI_API_KEY the bridge
// still answers, with empty results.
func InitOCR(ctx context.Context, logger *log.Logger, cfg *config.Config) (*ocr.Bridge, func()) {
	extractor := ocr.NewExtractor(cfg.AmountContextWindow)
	ocrLogger := logger.WithComponent(log.ComponentOCR)

	recognizer, err := ocr.NewGeminiRecognizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		if errors.Is(err, ocr.ErrNoCredentials) {
			logger.Info("GEMINI_API_KEY not set, OCR analysis disabled")
		} else {
			logger.Warn("Failed to initialize Gemini client, OCR analysis disabled", log.FieldError, err)
		}
		return ocr.NewBridge(nil, extractor, ocrLogger), func() {}
	}
	logger.Info("Initialized Gemini OCR", "model", cfg.GeminiModel)
	return ocr.NewBridge(recognizer, extractor, ocrLogger), func() { recognizer.Close() }
}

// ShutdownContext is cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
	}()
	return ctx, stop
}

// ShutdownTimeout bounds graceful shutdown of servers and consumers.
const ShutdownTimeout = 10 * time.Second
