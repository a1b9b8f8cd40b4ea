package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"dogepal/internal/amqp"
	"dogepal/internal/cache"
	"dogepal/internal/cli"
	apphttp "dogepal/internal/http"
	applog "dogepal/internal/log"
	"dogepal/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)

	if err := run(logger); err != nil {
		logger.Error("Server exited with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(logger *applog.Logger) error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	repo, err := cli.InitSQLite(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	engine, err := cli.NewEngine(cfg.RulesFile, logger)
	if err != nil {
		return err
	}

	exporter, err := cli.NewExporter(ctx, cfg)
	if err != nil {
		return err
	}

	// Keep the interface nil when AMQP is off.
	var publisher services.GeneratePublisher
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher = client
		logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - recommendations regenerate only on demand")
	}

	readCache := cache.NewLRUCache[any](64, cfg.CacheTTL)
	caches := cache.NewManager()
	caches.Register(readCache)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Spending:        services.NewSpendingService(repo, publisher, readCache),
		Recommendations: services.NewRecommendationService(repo, engine, exporter, readCache, cfg.DedupWindow),
		Publisher:       publisher,
		Ready:           repo.Ping,
	}, apphttp.Options{
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
		DefaultMinConfidence: cfg.MinConfidence,
		TrustedProxies:       cfg.TrustedProxies,
		Logger:               logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting dogepal server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
