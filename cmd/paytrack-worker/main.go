package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"paytrack/internal/amqp"
	"paytrack/internal/cli"
	"paytrack/internal/config"
	"paytrack/internal/log"
	"paytrack/internal/repository"
	"paytrack/internal/sheets"
	"paytrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	cli.MustValidate(logger, cfg.ValidateWorker)

	logger.Info("Starting paytrack-worker")

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	backend := cli.InitBackend(ctx, logger, cfg)
	defer backend.Cleanup()

	ledger, err := sheets.NewLedger(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets ledger", log.FieldError, err)
		backend.Cleanup()
		os.Exit(1)
	}
	logger.Info("Google Sheets ledger initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		backend.Cleanup()
		os.Exit(1)
	}
	defer amqpClient.Close()

	ledgerWorker := worker.NewLedgerWorker(ledger, repository.New(backend.Store, logger), logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeWithRetry(gctx, ledgerWorker.HandlePaymentReviewed)
	})

	// Periodic reconcile covers events lost while the worker or broker was down
	g.Go(func() error {
		reconcile(gctx, logger, ledgerWorker)
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				reconcile(gctx, logger, ledgerWorker)
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		amqpClient.Close()
		backend.Cleanup()
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func reconcile(ctx context.Context, logger *log.Logger, w *worker.LedgerWorker) {
	n, err := w.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Periodic reconcile failed", log.FieldError, err, "appended", n)
		}
		return
	}
	if n > 0 {
		logger.Info("Reconciled ledger", "appended", n)
	}
}
