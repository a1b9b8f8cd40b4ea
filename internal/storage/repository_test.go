package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogepal/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleSpending(id string, amount float64, category, vendor, department string, day int) core.Transaction {
	return core.Transaction{
		ID:            id,
		Amount:        amount,
		Category:      category,
		Vendor:        vendor,
		Department:    department,
		Date:          core.NewDate(2024, 5, day),
		Justification: "quarterly purchase from " + vendor,
		Borough:       "Brooklyn",
		Metadata:      map[string]any{"source": "test"},
	}
}

func seed(t *testing.T, repo *SQLiteRepository, txns ...core.Transaction) {
	t.Helper()
	for _, tx := range txns {
		_, err := repo.CreateSpending(context.Background(), tx)
		require.NoError(t, err)
	}
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	version, dirty, err := MigrationVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, RunMigrations(path))
}

func TestCreateAndGetSpending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateSpending(ctx, sampleSpending("SP-1", 1250.5, "software", "Acme", "Technology", 3))
	require.NoError(t, err)
	assert.Equal(t, "pending", created.ApprovalStatus)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetSpending(ctx, "SP-1")
	require.NoError(t, err)
	assert.Equal(t, 1250.5, got.Amount)
	assert.Equal(t, "Acme", got.Vendor)
	assert.Equal(t, "2024-05-03", got.Date.String())
	assert.Equal(t, "test", got.Metadata["source"])
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestCreateSpendingGeneratesID(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateSpending(context.Background(), sampleSpending("", 10, "software", "Acme", "IT", 1))
	require.NoError(t, err)
	assert.Len(t, created.ID, 36)
}

func TestCreateSpendingConflict(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, sampleSpending("SP-1", 10, "software", "Acme", "IT", 1))

	_, err := repo.CreateSpending(context.Background(), sampleSpending("SP-1", 20, "software", "Acme", "IT", 1))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateSpendingValidates(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.CreateSpending(context.Background(), sampleSpending("SP-1", -1, "software", "Acme", "IT", 1))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestGetSpendingNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetSpending(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSpendingFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo,
		sampleSpending("1", 100, "Software", "Acme", "Technology", 1),
		sampleSpending("2", 500, "software", "Globex", "Finance", 2),
		sampleSpending("3", 900, "hardware", "Initech", "Technology", 3),
		sampleSpending("4", 50, "training", "Learnly", "HR", 4),
	)

	tests := []struct {
		name   string
		filter SpendingFilter
		want   []string
	}{
		{"all newest first", SpendingFilter{}, []string{"4", "3", "2", "1"}},
		{"category is case-insensitive", SpendingFilter{Category: "SOFTWARE"}, []string{"2", "1"}},
		{"department", SpendingFilter{Department: "technology"}, []string{"3", "1"}},
		{"amount range", SpendingFilter{MinAmount: floatPtr(100), MaxAmount: floatPtr(500)}, []string{"2", "1"}},
		{"date range", SpendingFilter{StartDate: &[]core.Date{core.NewDate(2024, 5, 2)}[0], EndDate: &[]core.Date{core.NewDate(2024, 5, 3)}[0]}, []string{"3", "2"}},
		{"search vendor", SpendingFilter{Search: "glob"}, []string{"2"}},
		{"search justification", SpendingFilter{Search: "purchase from initech"}, []string{"3"}},
		{"pagination", SpendingFilter{Skip: 1, Limit: 2}, []string{"3", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListSpending(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, tx := range got {
				ids = append(ids, tx.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestUpdateSpending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo, sampleSpending("1", 100, "software", "Acme", "IT", 1))

	updated, err := repo.UpdateSpending(ctx, "1", SpendingUpdate{
		Amount:         floatPtr(150),
		Vendor:         strPtr("Acme Corp"),
		ApprovalStatus: strPtr("approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, 150.0, updated.Amount)

	got, err := repo.GetSpending(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, got.Amount)
	assert.Equal(t, "Acme Corp", got.Vendor)
	assert.Equal(t, "approved", got.ApprovalStatus)
	assert.Equal(t, "software", got.Category)

	_, err = repo.UpdateSpending(ctx, "1", SpendingUpdate{Vendor: strPtr("  ")})
	assert.ErrorIs(t, err, core.ErrEmptyVendor)

	_, err = repo.UpdateSpending(ctx, "missing", SpendingUpdate{Amount: floatPtr(1)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSpendingCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo, sampleSpending("1", 100000, "software", "Acme", "IT", 1))

	_, err := repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.9)}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteSpending(ctx, "1"))
	assert.ErrorIs(t, repo.DeleteSpending(ctx, "1"), ErrNotFound)

	recs, err := repo.ListRecommendations(ctx, RecommendationFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSpendingSummary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.SpendingSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Empty(t, empty.Categories)

	seed(t, repo,
		sampleSpending("1", 100, "software", "Acme", "IT", 1),
		sampleSpending("2", 300, "software", "Acme", "IT", 2),
		sampleSpending("3", 50, "training", "Learnly", "HR", 3),
	)

	s, err := repo.SpendingSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 450.0, s.Total)
	assert.Equal(t, 150.0, s.Average)
	assert.Equal(t, 300.0, s.Max)
	assert.Equal(t, 50.0, s.Min)
	require.Len(t, s.Categories, 2)
	assert.Equal(t, CategoryTotal{Category: "software", Count: 2, Total: 400}, s.Categories[0])
}

func TestSnapshotIsStable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo,
		sampleSpending("b", 1, "x", "v", "d", 2),
		sampleSpending("a", 1, "x", "v", "d", 2),
		sampleSpending("c", 1, "x", "v", "d", 1),
	)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	ids := []string{snap[0].ID, snap[1].ID, snap[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func anomaly(subject string, confidence float64) core.Recommendation {
	return core.Recommendation{
		SubjectID:        subject,
		Kind:             core.KindSpendingAnomaly,
		Title:            "Unusual software spending",
		PotentialSavings: 250,
		ConfidenceScore:  confidence,
		Priority:         core.PriorityFor(confidence),
		Metadata:         map[string]any{"z_score": 3.5},
	}
}

func vendorRec() core.Recommendation {
	return core.Recommendation{
		Kind:             core.KindVendorConsolidation,
		Title:            "Vendor Consolidation Opportunity",
		PotentialSavings: 80,
		ConfidenceScore:  0.4,
		Priority:         core.PriorityLow,
	}
}

func TestSaveRecommendationsDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo,
		sampleSpending("1", 100000, "software", "Acme", "IT", 1),
		sampleSpending("2", 90000, "software", "Acme", "IT", 2),
	)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	res, err := repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.9), vendorRec(), anomaly("1", 0.95)}, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, res.Stored, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, res.Stored[0].ID, 36)
	assert.Equal(t, core.StatusPending, res.Stored[0].Status)

	// Same batch an hour later: both pairs already exist.
	now = now.Add(time.Hour)
	res, err = repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.9), vendorRec(), anomaly("2", 0.9)}, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, res.Stored, 1)
	assert.Equal(t, "2", res.Stored[0].SubjectID)
	assert.Equal(t, 2, res.Duplicates)

	// Outside the window the pair may be recommended again.
	now = now.Add(48 * time.Hour)
	res, err = repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.9)}, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, res.Stored, 1)

	// A zero window never expires.
	now = now.Add(365 * 24 * time.Hour)
	res, err = repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.9)}, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Stored)
}

func TestSaveRecommendationsRejectsInvalid(t *testing.T) {
	repo := newTestRepo(t)
	bad := vendorRec()
	bad.ConfidenceScore = 1.5

	_, err := repo.SaveRecommendations(context.Background(), []core.Recommendation{vendorRec(), bad}, time.Hour)
	assert.ErrorIs(t, err, core.ErrInvalidConfidence)

	recs, err := repo.ListRecommendations(context.Background(), RecommendationFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs, "batch must roll back")
}

func TestListRecommendations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo,
		sampleSpending("1", 100000, "software", "Acme", "Technology", 1),
		sampleSpending("2", 9000, "training", "Learnly", "HR", 2),
	)
	_, err := repo.SaveRecommendations(ctx, []core.Recommendation{
		anomaly("1", 0.99), anomaly("2", 0.6), vendorRec(),
	}, time.Hour)
	require.NoError(t, err)

	all, err := repo.ListRecommendations(ctx, RecommendationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].SubjectID)
	require.NotNil(t, all[0].Spending)
	assert.Equal(t, 100000.0, all[0].Spending.Amount)
	assert.Equal(t, "Acme", all[0].Spending.Vendor)
	assert.Equal(t, 3.5, all[0].Metadata["z_score"])
	assert.Nil(t, all[2].Spending, "aggregate recommendations have no transaction")

	confident, err := repo.ListRecommendations(ctx, RecommendationFilter{MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, confident, 2)

	hr, err := repo.ListRecommendations(ctx, RecommendationFilter{Department: "hr"})
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, "2", hr[0].SubjectID)

	vendors, err := repo.ListRecommendations(ctx, RecommendationFilter{Kind: core.KindVendorConsolidation})
	require.NoError(t, err)
	assert.Len(t, vendors, 1)
}

func TestUpdateAndDeleteRecommendation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res, err := repo.SaveRecommendations(ctx, []core.Recommendation{vendorRec()}, time.Hour)
	require.NoError(t, err)
	id := res.Stored[0].ID

	implemented := core.StatusImplemented
	updated, err := repo.UpdateRecommendation(ctx, id, RecommendationUpdate{
		Status: &implemented,
		Title:  strPtr("Consolidate office vendors"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusImplemented, updated.Status)
	assert.Equal(t, "Consolidate office vendors", updated.Title)

	bogus := core.RecommendationStatus("done")
	_, err = repo.UpdateRecommendation(ctx, id, RecommendationUpdate{Status: &bogus})
	assert.ErrorIs(t, err, core.ErrInvalidStatus)

	_, err = repo.UpdateRecommendation(ctx, "missing", RecommendationUpdate{Title: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteRecommendation(ctx, id))
	_, err = repo.GetRecommendation(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteRecommendation(ctx, id), ErrNotFound)
}

func TestRecommendationStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo, sampleSpending("1", 100000, "software", "Acme", "IT", 1))

	res, err := repo.SaveRecommendations(ctx, []core.Recommendation{anomaly("1", 0.8), vendorRec()}, time.Hour)
	require.NoError(t, err)

	rejected := core.StatusRejected
	_, err = repo.UpdateRecommendation(ctx, res.Stored[1].ID, RecommendationUpdate{Status: &rejected})
	require.NoError(t, err)

	stats, err := repo.RecommendationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 330.0, stats.TotalSavings)
	assert.InDelta(t, 0.6, stats.AverageConfidence, 1e-9)
	assert.Equal(t, map[string]int{"spending_anomaly": 1, "vendor_consolidation": 1}, stats.ByKind)
	assert.Equal(t, map[string]int{"pending": 1, "rejected": 1}, stats.ByStatus)
}
