package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogepal/internal/amqp"
	"dogepal/internal/analysis"
	"dogepal/internal/cache"
	"dogepal/internal/core"
	applog "dogepal/internal/log"
	"dogepal/internal/sheets/memory"
	"dogepal/internal/storage"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.GenerateRequestMessage
	err  error
}

func (p *fakePublisher) PublishGenerateRequest(_ context.Context, msg *amqp.GenerateRequestMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *fakePublisher) reasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		out = append(out, m.Reason)
	}
	return out
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newEngine(t *testing.T) *analysis.Engine {
	t.Helper()
	e, err := analysis.NewEngine(analysis.DefaultRules(), applog.Discard())
	require.NoError(t, err)
	return e
}

func spending(id string, amount float64) core.Transaction {
	return core.Transaction{
		ID:         id,
		Amount:     amount,
		Category:   "software",
		Vendor:     "Acme",
		Department: "Technology",
		Date:       core.NewDate(2024, 3, 1),
	}
}

func TestSpendingService_CreatePublishesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	pub := &fakePublisher{}
	c := cache.NewLRUCache[any](10, time.Minute)
	svc := NewSpendingService(repo, pub, c)

	_, err := svc.Create(ctx, spending("a", 100))
	require.NoError(t, err)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 1, c.Size())

	created, err := svc.Create(ctx, spending("", 300))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, c.Size(), "write should clear cached aggregates")

	summary, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 400.0, summary.Total)

	assert.Equal(t, []string{amqp.ReasonSpendingCreated, amqp.ReasonSpendingCreated}, pub.reasons())
	assert.Equal(t, created.ID, pub.msgs[1].SpendingID)
}

func TestSpendingService_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	pub := &fakePublisher{err: amqp.ErrCircuitOpen}
	svc := NewSpendingService(repo, pub, nil)

	_, err := svc.Create(ctx, spending("a", 100))
	require.NoError(t, err)

	amount := 250.0
	updated, err := svc.Update(ctx, "a", storage.SpendingUpdate{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 250.0, updated.Amount)

	require.NoError(t, svc.Delete(ctx, "a"))
	assert.Equal(t, []string{
		amqp.ReasonSpendingCreated, amqp.ReasonSpendingUpdated, amqp.ReasonSpendingDeleted,
	}, pub.reasons())
}

func TestSpendingService_Errors(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := NewSpendingService(newRepo(t), pub, nil)

	_, err := svc.Create(ctx, core.Transaction{ID: "bad", Amount: -1, Category: "x", Vendor: "y", Department: "z"})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = svc.Create(ctx, spending("dup", 10))
	require.NoError(t, err)
	_, err = svc.Create(ctx, spending("dup", 10))
	assert.ErrorIs(t, err, storage.ErrConflict)

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), storage.ErrNotFound)
	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Only the successful create published.
	assert.Len(t, pub.reasons(), 1)

	// No-op update publishes nothing.
	_, err = svc.Update(ctx, "dup", storage.SpendingUpdate{})
	require.NoError(t, err)
	assert.Len(t, pub.reasons(), 1)
}

func TestSpendingService_NilPublisher(t *testing.T) {
	svc := NewSpendingService(newRepo(t), nil, nil)
	_, err := svc.Create(context.Background(), spending("a", 1))
	require.NoError(t, err)

	list, err := svc.List(context.Background(), storage.SpendingFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func seedOutlier(t *testing.T, repo *storage.SQLiteRepository) {
	t.Helper()
	for i, amount := range []float64{100, 100, 100, 100000} {
		tx := spending(string(rune('1'+i)), amount)
		_, err := repo.CreateSpending(context.Background(), tx)
		require.NoError(t, err)
	}
}

func TestRecommendationService_Generate(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seedOutlier(t, repo)
	exporter := memory.New()
	c := cache.NewLRUCache[any](10, time.Minute)
	svc := NewRecommendationService(repo, newEngine(t), exporter, c, 24*time.Hour)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	res, err := svc.Generate(ctx, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Evaluated)
	assert.Equal(t, 2, res.Generated)
	assert.Len(t, res.Stored, 2)
	assert.Zero(t, res.Duplicates)
	for _, r := range res.Stored {
		assert.Equal(t, "4", r.SubjectID)
		assert.NotEmpty(t, r.ID)
	}

	// Cached stats were invalidated by the insert.
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 30000.0, stats.TotalSavings)

	assert.Len(t, exporter.Rows(), 3, "header plus two exported rows")

	again, err := svc.Generate(ctx, 0.7)
	require.NoError(t, err)
	assert.Empty(t, again.Stored)
	assert.Equal(t, 2, again.Duplicates)
	assert.Len(t, exporter.Rows(), 3, "duplicates are not exported")

	views, err := svc.List(ctx, storage.RecommendationFilter{MinConfidence: 0.9})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, core.KindSpendingAnomaly, views[0].Kind)
	require.NotNil(t, views[0].Spending)
	assert.Equal(t, 100000.0, views[0].Spending.Amount)
}

func TestRecommendationService_InvalidMinConfidence(t *testing.T) {
	svc := NewRecommendationService(newRepo(t), newEngine(t), nil, nil, time.Hour)
	for _, v := range []float64{-0.1, 1.5} {
		_, err := svc.Generate(context.Background(), v)
		assert.ErrorIs(t, err, analysis.ErrInvalidMinConfidence)
	}
}

func TestRecommendationService_ExportFailureIsNotFatal(t *testing.T) {
	repo := newRepo(t)
	seedOutlier(t, repo)
	exporter := memory.New()
	exporter.FailWith(errors.New("sheet unavailable"))
	svc := NewRecommendationService(repo, newEngine(t), exporter, nil, time.Hour)

	res, err := svc.Generate(context.Background(), 0.7)
	require.NoError(t, err)
	assert.Len(t, res.Stored, 2)
}

func TestRecommendationService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seedOutlier(t, repo)
	c := cache.NewLRUCache[any](10, time.Minute)
	svc := NewRecommendationService(repo, newEngine(t), nil, c, time.Hour)

	res, err := svc.Generate(ctx, 0.7)
	require.NoError(t, err)
	require.NotEmpty(t, res.Stored)
	id := res.Stored[0].ID

	_, err = svc.Stats(ctx)
	require.NoError(t, err)

	status := core.StatusImplemented
	v, err := svc.Update(ctx, id, storage.RecommendationUpdate{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, core.StatusImplemented, v.Status)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus["implemented"])

	bad := core.RecommendationStatus("done")
	_, err = svc.Update(ctx, id, storage.RecommendationUpdate{Status: &bad})
	assert.ErrorIs(t, err, core.ErrInvalidStatus)

	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, id), storage.ErrNotFound)
}
