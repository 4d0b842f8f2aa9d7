package main

import (
	"context"
	"errors"
	"os"

	"vfcash/internal/amqp"
	"vfcash/internal/backend"
	"vfcash/internal/cli"
	"vfcash/internal/log"
	"vfcash/internal/sheets"
	gsheet "vfcash/internal/sheets/google"
	mem "vfcash/internal/sheets/memory"
	"vfcash/internal/storage"
	"vfcash/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(log.ComponentWorker)

	logger.Info("Starting vfcash-worker", log.FieldOperation, log.OpStartup)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the worker", log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	var mirror sheets.TransactionMirror
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:     cfg.GoogleSpreadsheetID,
			TransactionsSheet: cfg.GoogleTransactionsSheet,
			LimitsSheet:       cfg.GoogleLimitsSheet,
			CredentialsJSON:   cfg.GoogleServiceAccountJSON,
			CredentialsFile:   cfg.GoogleServiceAccountFile,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client",
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorTypeConfiguration)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		mirror = mem.New()
		logger.Info("Google Sheets disabled - mirroring in memory")
	}

	// Resync needs a backend the server also writes to; a memory backend
	// is private to the server process.
	var (
		txs     storage.TransactionStore
		limits  storage.LimitsStore
		cleanup func(context.Context) error
	)
	if cfg.DataBackend != backend.MemoryBackend.String() {
		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			logger.Error("Invalid backend configuration", log.FieldError, err.Error())
			os.Exit(1)
		}
		stores, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
		if err != nil {
			logger.Error("Failed to initialize backend",
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorTypeDatabase)
			os.Exit(1)
		}
		txs, limits, cleanup = stores.Transactions, stores.Limits, stores.Close
	}

	mirrorWorker := worker.NewMirrorWorker(mirror, txs, limits, logger)

	logger.Info("Performing startup resync...")
	if err := mirrorWorker.Resync(ctx); err != nil {
		logger.Error("Startup resync failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpMirror)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client",
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeNetwork)
		os.Exit(1)
	}

	consumeErr := amqpClient.Consume(ctx, mirrorWorker.HandleEvent)
	if errors.Is(consumeErr, context.Canceled) {
		consumeErr = nil
	}
	if consumeErr != nil {
		logger.Error("Event consumption failed", log.FieldError, consumeErr.Error())
	}

	cleanupErr := cli.RunCleanup(logger, cfg.ShutdownTimeout,
		func(context.Context) error { return amqpClient.Close() },
		cleanup,
	)
	if consumeErr != nil || cleanupErr != nil {
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
