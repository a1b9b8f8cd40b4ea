package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dogepal/internal/amqp"
	applog "dogepal/internal/log"
	"dogepal/internal/services"
)

type Generator interface {
	Generate(ctx context.Context, minConfidence float64) (services.GenerateResult, error)
}

// Consumer delivers generate requests until ctx is done.
type Consumer interface {
	ConsumeGenerateRequests(ctx context.Context, handler func(context.Context, *amqp.GenerateRequestMessage) error) error
}

// RecommendationWorker regenerates recommendations on request and on a
// fixed interval.
type RecommendationWorker struct {
	generator     Generator
	minConfidence float64
	interval      time.Duration
}

func NewRecommendationWorker(generator Generator, minConfidence float64, interval time.Duration) *RecommendationWorker {
	return &RecommendationWorker{
		generator:     generator,
		minConfidence: minConfidence,
		interval:      interval,
	}
}

// HandleGenerateRequest processes a single generate request from AMQP.
func (w *RecommendationWorker) HandleGenerateRequest(ctx context.Context, msg *amqp.GenerateRequestMessage) error {
	minConfidence := w.minConfidence
	if msg.MinConfidence != nil {
		minConfidence = *msg.MinConfidence
	}

	slog.InfoContext(ctx, "Processing generate request",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldReason, msg.Reason,
		applog.FieldSpendingID, msg.SpendingID,
		applog.FieldConfidence, minConfidence)

	if _, err := w.generator.Generate(ctx, minConfidence); err != nil {
		return fmt.Errorf("generate recommendations: %w", err)
	}
	return nil
}

// Run performs a startup generation, then runs the consumer (when non-nil)
// and the periodic ticker until ctx is cancelled or the consumer fails.
func (w *RecommendationWorker) Run(ctx context.Context, consumer Consumer) error {
	w.runOnce(ctx, amqp.ReasonScheduled)

	g, ctx := errgroup.WithContext(ctx)

	if consumer != nil {
		g.Go(func() error {
			err := consumer.ConsumeGenerateRequests(ctx, w.HandleGenerateRequest)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.InfoContext(ctx, "No AMQP consumer, relying on periodic generation",
			applog.FieldComponent, applog.ComponentWorker)
	}

	if w.interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(w.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					w.runOnce(ctx, amqp.ReasonScheduled)
				}
			}
		})
	}

	return g.Wait()
}

// runOnce generates with the default threshold; failures are logged and
// retried on the next tick.
func (w *RecommendationWorker) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	res, err := w.generator.Generate(ctx, w.minConfidence)
	if err != nil {
		slog.ErrorContext(ctx, "Periodic generation failed",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldReason, reason,
			applog.FieldError, err)
		return
	}
	slog.InfoContext(ctx, "Periodic generation finished",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldReason, reason,
		applog.FieldStored, len(res.Stored),
		applog.FieldDuplicates, res.Duplicates)
}
