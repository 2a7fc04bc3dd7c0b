package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"paytrack/internal/aggregate"
	"paytrack/internal/cli"
	"paytrack/internal/clients"
	"paytrack/internal/config"
	apphttp "paytrack/internal/http"
	"paytrack/internal/log"
	"paytrack/internal/notify"
	"paytrack/internal/repository"
	"paytrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentApp)
	cli.MustValidate(logger, cfg.Validate)

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	backend := cli.InitBackend(ctx, logger, cfg)
	defer backend.Cleanup()

	clientCache, stopCache := cli.InitClientCache(ctx, logger, cfg)
	defer stopCache()

	analyzer, closeOCR := cli.InitOCR(ctx, logger, cfg)
	defer closeOCR()

	var (
		pusher    notify.Pusher
		publisher services.ReviewPublisher
	)
	if amqpClient := cli.InitAMQP(logger, cfg); amqpClient != nil {
		defer amqpClient.Close()
		pusher, publisher = amqpClient, amqpClient
	}

	repo := repository.New(backend.Store, logger)
	directory := clients.NewDirectory(backend.Store, clientCache, logger)
	notifications := notify.NewService(backend.Store, pusher, logger)
	workflow := services.NewPaymentService(repo, analyzer, notifications, publisher, cfg.AdminUserID, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Payments:      repo,
		Workflow:      workflow,
		Aggregates:    aggregate.New(repo, directory, cfg.DefaultTargetAmount, logger),
		Notifications: notifications,
		Analyzer:      analyzer,
		Health:        backend.Store,
		Stream:        repo,
		Logger:        logger,

		RequestsPerMinute: cfg.RateLimitPerMinute,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting paytrack server", "port", cfg.Port, "backend", backend.Type.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		backend.Cleanup()
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
