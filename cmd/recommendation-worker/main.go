package main

import (
	"context"
	"errors"
	"os"

	"dogepal/internal/amqp"
	"dogepal/internal/cli"
	applog "dogepal/internal/log"
	"dogepal/internal/services"
	"dogepal/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting recommendation-worker")

	if err := run(logger); err != nil {
		logger.Error("Worker exited with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
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

	svc := services.NewRecommendationService(repo, engine, exporter, nil, cfg.DedupWindow)
	w := worker.NewRecommendationWorker(svc, cfg.MinConfidence, cfg.GenerateInterval)

	var consumer worker.Consumer
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer client.Close()
		consumer = client
	} else {
		logger.Info("AMQP disabled - generating on interval only", "interval", cfg.GenerateInterval)
	}

	if err := w.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
