package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"vfcash/internal/amqp"
	"vfcash/internal/backend"
	"vfcash/internal/cache"
	"vfcash/internal/cli"
	apphttp "vfcash/internal/http"
	"vfcash/internal/log"
	"vfcash/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid usage timezone", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	stores, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend",
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeDatabase,
			"backend", cfg.DataBackend)
		os.Exit(1)
	}

	// publisher stays a nil interface when AMQP is disabled or unreachable
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events",
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorTypeNetwork)
		} else {
			publisher = amqpClient
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	usage := services.NewUsageService(stores.Transactions, stores.Limits, loc, logger)
	ingestion := services.NewIngestionService(stores.Transactions, publisher, usage, logger, loc)
	limits := services.NewLimitsService(stores.Limits, publisher, usage, logger)

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache))
	caches.Register(usage.Cache())
	caches.StartCleanup(cfg.CacheCleanupInterval)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	}, apphttp.Deps{
		Ingestion: ingestion,
		Limits:    limits,
		Usage:     usage,
		Probe:     stores.Probe,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting vfcash server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events_enabled", publisher != nil,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("Server error", log.FieldError, runErr.Error(), "port", cfg.Port)
	}

	caches.Stop()
	cleanupErr := cli.RunCleanup(logger, cfg.ShutdownTimeout,
		func(context.Context) error {
			if amqpClient == nil {
				return nil
			}
			return amqpClient.Close()
		},
		stores.Close,
	)

	if runErr != nil || cleanupErr != nil {
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
