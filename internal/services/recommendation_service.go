package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"dogepal/internal/analysis"
	"dogepal/internal/cache"
	"dogepal/internal/core"
	applog "dogepal/internal/log"
	"dogepal/internal/metrics"
	"dogepal/internal/sheets"
	"dogepal/internal/storage"
)

const statsCacheKey = "recommendations:stats"

type RecommendationRepository interface {
	Snapshot(ctx context.Context) ([]core.Transaction, error)
	SaveRecommendations(ctx context.Context, recs []core.Recommendation, window time.Duration) (storage.SaveResult, error)
	ListRecommendations(ctx context.Context, f storage.RecommendationFilter) ([]storage.RecommendationView, error)
	GetRecommendation(ctx context.Context, id string) (storage.RecommendationView, error)
	UpdateRecommendation(ctx context.Context, id string, u storage.RecommendationUpdate) (storage.RecommendationView, error)
	DeleteRecommendation(ctx context.Context, id string) error
	RecommendationStats(ctx context.Context) (storage.RecommendationStats, error)
}

// GenerateResult summarizes one generation run.
type GenerateResult struct {
	Evaluated  int
	Generated  int
	Duplicates int
	Skipped    []analysis.Skipped
	// Stored holds only recommendations inserted by this run.
	Stored []core.Recommendation
}

// RecommendationService runs the engine over the stored snapshot and manages
// the resulting recommendations.
type RecommendationService struct {
	repo     RecommendationRepository
	engine   *analysis.Engine
	exporter sheets.RecommendationExporter
	cache    cache.Cache[any]
	window   time.Duration

	// Serializes Generate so concurrent triggers do not race on dedup.
	mu sync.Mutex
}

// NewRecommendationService wires the service. exporter and c may be nil.
func NewRecommendationService(repo RecommendationRepository, engine *analysis.Engine, exporter sheets.RecommendationExporter, c cache.Cache[any], dedupWindow time.Duration) *RecommendationService {
	return &RecommendationService{
		repo:     repo,
		engine:   engine,
		exporter: exporter,
		cache:    c,
		window:   dedupWindow,
	}
}

// Generate evaluates the current snapshot and stores the recommendations
// not already present within the dedup window.
func (s *RecommendationService) Generate(ctx context.Context, minConfidence float64) (GenerateResult, error) {
	if math.IsNaN(minConfidence) || minConfidence < 0 || minConfidence > 1 {
		return GenerateResult{}, fmt.Errorf("%w: got %v", analysis.ErrInvalidMinConfidence, minConfidence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snapshot, err := s.repo.Snapshot(ctx)
	if err != nil {
		metrics.ObserveEvaluationError()
		return GenerateResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	report, err := s.engine.EvaluateReport(snapshot, minConfidence)
	if err != nil {
		metrics.ObserveEvaluationError()
		return GenerateResult{}, fmt.Errorf("evaluate: %w", err)
	}
	metrics.ObserveEvaluation(len(snapshot), report.Recommendations, len(report.Skipped), time.Since(start))

	saved, err := s.repo.SaveRecommendations(ctx, report.Recommendations, s.window)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("save recommendations: %w", err)
	}
	metrics.ObserveSave(len(saved.Stored), saved.Duplicates)

	if len(saved.Stored) > 0 && s.cache != nil {
		s.cache.Delete(statsCacheKey)
	}

	result := GenerateResult{
		Evaluated:  report.Evaluated,
		Generated:  len(report.Recommendations),
		Duplicates: saved.Duplicates,
		Skipped:    report.Skipped,
		Stored:     saved.Stored,
	}

	slog.InfoContext(ctx, "Recommendations generated",
		applog.FieldComponent, applog.ComponentRecommendation,
		applog.FieldOperation, applog.OpGenerate,
		applog.FieldCount, result.Generated,
		applog.FieldStored, len(result.Stored),
		applog.FieldDuplicates, result.Duplicates,
		applog.FieldSkipped, len(result.Skipped),
		applog.FieldDuration, time.Since(start).Milliseconds())

	s.export(ctx, saved.Stored)
	return result, nil
}

// export is best effort: the recommendations are already stored.
func (s *RecommendationService) export(ctx context.Context, recs []core.Recommendation) {
	if s.exporter == nil || len(recs) == 0 {
		return
	}
	if _, err := s.exporter.Export(ctx, recs); err != nil {
		slog.ErrorContext(ctx, "Failed to export recommendations",
			applog.FieldComponent, applog.ComponentSheets,
			applog.FieldOperation, applog.OpExport,
			applog.FieldCount, len(recs),
			applog.FieldError, err)
	}
}

func (s *RecommendationService) List(ctx context.Context, f storage.RecommendationFilter) ([]storage.RecommendationView, error) {
	return s.repo.ListRecommendations(ctx, f)
}

func (s *RecommendationService) Get(ctx context.Context, id string) (storage.RecommendationView, error) {
	return s.repo.GetRecommendation(ctx, id)
}

func (s *RecommendationService) Update(ctx context.Context, id string, u storage.RecommendationUpdate) (storage.RecommendationView, error) {
	v, err := s.repo.UpdateRecommendation(ctx, id, u)
	if err != nil {
		return storage.RecommendationView{}, fmt.Errorf("update recommendation: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(statsCacheKey)
	}
	return v, nil
}

func (s *RecommendationService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteRecommendation(ctx, id); err != nil {
		return fmt.Errorf("delete recommendation: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(statsCacheKey)
	}
	return nil
}

// Stats returns aggregate recommendation figures, served from cache when
// fresh.
func (s *RecommendationService) Stats(ctx context.Context) (storage.RecommendationStats, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(statsCacheKey); ok {
			if stats, ok := v.(storage.RecommendationStats); ok {
				return stats, nil
			}
		}
	}

	stats, err := s.repo.RecommendationStats(ctx)
	if err != nil {
		return storage.RecommendationStats{}, fmt.Errorf("recommendation stats: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(statsCacheKey, stats)
	}
	return stats, nil
}
