package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dogepal/internal/amqp"
	"dogepal/internal/cache"
	"dogepal/internal/core"
	applog "dogepal/internal/log"
	"dogepal/internal/storage"
)

const summaryCacheKey = "spending:summary"

type SpendingRepository interface {
	CreateSpending(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetSpending(ctx context.Context, id string) (core.Transaction, error)
	ListSpending(ctx context.Context, f storage.SpendingFilter) ([]core.Transaction, error)
	UpdateSpending(ctx context.Context, id string, u storage.SpendingUpdate) (core.Transaction, error)
	DeleteSpending(ctx context.Context, id string) error
	SpendingSummary(ctx context.Context) (storage.SpendingSummary, error)
}

// GeneratePublisher hands regeneration requests to a worker.
type GeneratePublisher interface {
	PublishGenerateRequest(ctx context.Context, msg *amqp.GenerateRequestMessage) error
}

// SpendingService orchestrates spending writes across SQLite, the read cache
// and AMQP.
type SpendingService struct {
	repo      SpendingRepository
	publisher GeneratePublisher
	cache     cache.Cache[any]
}

// NewSpendingService wires the service. publisher and c may be nil.
func NewSpendingService(repo SpendingRepository, publisher GeneratePublisher, c cache.Cache[any]) *SpendingService {
	return &SpendingService{repo: repo, publisher: publisher, cache: c}
}

// Create saves a transaction locally and asks for regeneration.
func (s *SpendingService) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	stored, err := s.repo.CreateSpending(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save spending: %w", err)
	}

	applog.NewStructuredLogger(applog.FromContext(ctx)).LogSpendingCreated(ctx, stored.ID, stored.Amount, stored.Category, stored.Department)
	s.changed(ctx, amqp.ReasonSpendingCreated, stored.ID)
	return stored, nil
}

func (s *SpendingService) Get(ctx context.Context, id string) (core.Transaction, error) {
	return s.repo.GetSpending(ctx, id)
}

func (s *SpendingService) List(ctx context.Context, f storage.SpendingFilter) ([]core.Transaction, error) {
	return s.repo.ListSpending(ctx, f)
}

func (s *SpendingService) Update(ctx context.Context, id string, u storage.SpendingUpdate) (core.Transaction, error) {
	updated, err := s.repo.UpdateSpending(ctx, id, u)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update spending: %w", err)
	}
	if !u.Empty() {
		s.changed(ctx, amqp.ReasonSpendingUpdated, id)
	}
	return updated, nil
}

// Delete removes a transaction; its recommendations go with it.
func (s *SpendingService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteSpending(ctx, id); err != nil {
		return fmt.Errorf("delete spending: %w", err)
	}
	s.changed(ctx, amqp.ReasonSpendingDeleted, id)
	return nil
}

// Summary returns aggregate spending figures, served from cache when fresh.
func (s *SpendingService) Summary(ctx context.Context) (storage.SpendingSummary, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(summaryCacheKey); ok {
			if summary, ok := v.(storage.SpendingSummary); ok {
				return summary, nil
			}
		}
	}

	summary, err := s.repo.SpendingSummary(ctx)
	if err != nil {
		return storage.SpendingSummary{}, fmt.Errorf("spending summary: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(summaryCacheKey, summary)
	}
	return summary, nil
}

// changed invalidates cached aggregates and publishes a generate request.
// Publish failures are logged only: the write already succeeded.
func (s *SpendingService) changed(ctx context.Context, reason, id string) {
	if s.cache != nil {
		s.cache.Clear()
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping generate request",
			applog.FieldComponent, applog.ComponentSpending,
			applog.FieldSpendingID, id)
		return
	}

	msg := amqp.NewGenerateRequestMessage(reason, id, nil)
	if err := s.publisher.PublishGenerateRequest(ctx, msg); err != nil {
		level := slog.LevelError
		if errors.Is(err, amqp.ErrCircuitOpen) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Failed to publish generate request",
			applog.FieldComponent, applog.ComponentSpending,
			applog.FieldSpendingID, id,
			applog.FieldReason, reason,
			applog.FieldError, err)
	}
}
