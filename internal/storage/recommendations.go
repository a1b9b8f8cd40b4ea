package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dogepal/internal/core"
	applog "dogepal/internal/log"
)

var recommendationColumns = []string{
	"r.id", "r.spending_id", "r.recommendation_type", "r.title", "r.description",
	"r.explanation", "r.potential_savings", "r.confidence_score", "r.priority",
	"r.status", "r.metadata", "r.created_at", "r.updated_at",
}

// SpendingRef is the subset of a transaction shown next to a recommendation.
type SpendingRef struct {
	ID         string
	Amount     float64
	Category   string
	Vendor     string
	Department string
	Date       core.Date
}

// RecommendationView is a stored recommendation joined with its transaction.
// Spending is nil for aggregate recommendations.
type RecommendationView struct {
	core.Recommendation
	Spending *SpendingRef
}

type RecommendationFilter struct {
	Status        core.RecommendationStatus
	Kind          core.RecommendationKind
	MinConfidence float64
	Category      string
	Department    string
	Skip          int
	Limit         int
}

type RecommendationUpdate struct {
	Status      *core.RecommendationStatus
	Title       *string
	Description *string
	Explanation *string
}

type RecommendationStats struct {
	Total             int
	TotalSavings      float64
	AverageConfidence float64
	ByKind            map[string]int
	ByStatus          map[string]int
}

// SaveResult reports which recommendations were inserted and how many were
// dropped as duplicates.
type SaveResult struct {
	Stored     []core.Recommendation
	Duplicates int
}

// SaveRecommendations inserts recommendations, skipping any whose (subject,
// kind) pair already has a stored recommendation created within window.
// A zero window compares against every stored recommendation. The batch is
// written in a single transaction.
func (r *SQLiteRepository) SaveRecommendations(ctx context.Context, recs []core.Recommendation, window time.Duration) (SaveResult, error) {
	result := SaveResult{Stored: []core.Recommendation{}}
	if len(recs) == 0 {
		return result, nil
	}

	now := r.now().UTC()
	seen := make(map[string]bool, len(recs))

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("validate recommendation: %w", err)
			}

			key := rec.SubjectID + "\x00" + string(rec.Kind)
			if seen[key] {
				result.Duplicates++
				continue
			}
			seen[key] = true

			dup, err := r.hasRecent(ctx, tx, rec.SubjectID, rec.Kind, now, window)
			if err != nil {
				return err
			}
			if dup {
				result.Duplicates++
				continue
			}

			stored, err := r.insertRecommendation(ctx, tx, rec, now)
			if err != nil {
				return err
			}
			result.Stored = append(result.Stored, stored)
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}

	slog.InfoContext(ctx, "Recommendations saved",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldStored, len(result.Stored),
		applog.FieldDuplicates, result.Duplicates)

	return result, nil
}

func (r *SQLiteRepository) hasRecent(ctx context.Context, tx *sql.Tx, subject string, kind core.RecommendationKind, now time.Time, window time.Duration) (bool, error) {
	qb := r.sb.Select("1").
		From("recommendations").
		Where(sq.Eq{"recommendation_type": string(kind)}).
		Where(sq.Eq{"spending_id": nullableID(subject)}).
		Limit(1)
	if window > 0 {
		qb = qb.Where(sq.GtOrEq{"created_at": formatTime(now.Add(-window))})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return false, fmt.Errorf("build dedup query: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) insertRecommendation(ctx context.Context, tx *sql.Tx, rec core.Recommendation, now time.Time) (core.Recommendation, error) {
	rec.ID = newID()
	if rec.Status == "" {
		rec.Status = core.StatusPending
	}
	if rec.Priority == "" {
		rec.Priority = core.PriorityFor(rec.ConfidenceScore)
	}
	rec.CreatedAt, rec.UpdatedAt = now, now

	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return core.Recommendation{}, err
	}

	query, args, err := r.sb.Insert("recommendations").
		Columns(
			"id", "spending_id", "recommendation_type", "title", "description",
			"explanation", "potential_savings", "confidence_score", "priority",
			"status", "metadata", "created_at", "updated_at",
		).
		Values(
			rec.ID, nullableID(rec.SubjectID), string(rec.Kind), rec.Title, rec.Description,
			rec.Explanation, rec.PotentialSavings, rec.ConfidenceScore, string(rec.Priority),
			string(rec.Status), meta, formatTime(now), formatTime(now),
		).
		ToSql()
	if err != nil {
		return core.Recommendation{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return core.Recommendation{}, fmt.Errorf("insert recommendation: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) selectRecommendations() sq.SelectBuilder {
	cols := append([]string{}, recommendationColumns...)
	cols = append(cols, "s.amount", "s.category", "s.vendor", "s.department", "s.spending_date")
	return r.sb.Select(cols...).
		From("recommendations r").
		LeftJoin("spending s ON s.transaction_id = r.spending_id")
}

// ListRecommendations returns stored recommendations joined with their
// transactions, highest confidence first.
func (r *SQLiteRepository) ListRecommendations(ctx context.Context, f RecommendationFilter) ([]RecommendationView, error) {
	skip, limit := clampLimit(f.Skip, f.Limit)

	qb := r.selectRecommendations()
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"r.status": string(f.Status)})
	}
	if f.Kind != "" {
		qb = qb.Where(sq.Eq{"r.recommendation_type": string(f.Kind)})
	}
	if f.MinConfidence > 0 {
		qb = qb.Where(sq.GtOrEq{"r.confidence_score": f.MinConfidence})
	}
	if f.Category != "" {
		qb = qb.Where("LOWER(s.category) = ?", core.NormalizeKey(f.Category))
	}
	if f.Department != "" {
		qb = qb.Where("LOWER(s.department) = ?", core.NormalizeKey(f.Department))
	}

	query, args, err := qb.
		OrderBy("r.confidence_score DESC", "r.created_at DESC", "r.id").
		Offset(skip).
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	out := []RecommendationView{}
	for rows.Next() {
		v, err := scanRecommendationView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetRecommendation(ctx context.Context, id string) (RecommendationView, error) {
	query, args, err := r.selectRecommendations().Where(sq.Eq{"r.id": id}).ToSql()
	if err != nil {
		return RecommendationView{}, fmt.Errorf("build select: %w", err)
	}

	v, err := scanRecommendationView(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return RecommendationView{}, fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RecommendationView{}, fmt.Errorf("get recommendation: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) UpdateRecommendation(ctx context.Context, id string, u RecommendationUpdate) (RecommendationView, error) {
	set := map[string]any{}
	if u.Status != nil {
		if !u.Status.Valid() {
			return RecommendationView{}, fmt.Errorf("status %q: %w", *u.Status, core.ErrInvalidStatus)
		}
		set["status"] = string(*u.Status)
	}
	if u.Title != nil {
		set["title"] = *u.Title
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Explanation != nil {
		set["explanation"] = *u.Explanation
	}
	if len(set) == 0 {
		return r.GetRecommendation(ctx, id)
	}
	set["updated_at"] = formatTime(r.now())

	query, args, err := r.sb.Update("recommendations").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return RecommendationView{}, fmt.Errorf("build update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return RecommendationView{}, fmt.Errorf("update recommendation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return RecommendationView{}, fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	return r.GetRecommendation(ctx, id)
}

func (r *SQLiteRepository) DeleteRecommendation(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("recommendations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete recommendation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) RecommendationStats(ctx context.Context) (RecommendationStats, error) {
	stats := RecommendationStats{
		ByKind:   map[string]int{},
		ByStatus: map[string]int{},
	}

	query, args, err := r.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(potential_savings), 0)",
		"COALESCE(AVG(confidence_score), 0)",
	).From("recommendations").ToSql()
	if err != nil {
		return stats, fmt.Errorf("build stats: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.TotalSavings, &stats.AverageConfidence); err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}

	if err := r.countBy(ctx, "recommendation_type", stats.ByKind); err != nil {
		return stats, err
	}
	if err := r.countBy(ctx, "status", stats.ByStatus); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *SQLiteRepository) countBy(ctx context.Context, column string, into map[string]int) error {
	query, args, err := r.sb.Select(column, "COUNT(*)").
		From("recommendations").
		GroupBy(column).
		ToSql()
	if err != nil {
		return fmt.Errorf("build count by %s: %w", column, err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func scanRecommendationView(row rowScanner) (RecommendationView, error) {
	var (
		v                      RecommendationView
		subject                sql.NullString
		kind, priority, status string
		meta, created, updated string
		amount                 sql.NullFloat64
		category, vendor, dept sql.NullString
		date                   sql.NullString
	)
	err := row.Scan(
		&v.ID, &subject, &kind, &v.Title, &v.Description,
		&v.Explanation, &v.PotentialSavings, &v.ConfidenceScore, &priority,
		&status, &meta, &created, &updated,
		&amount, &category, &vendor, &dept, &date,
	)
	if err != nil {
		return RecommendationView{}, err
	}

	v.SubjectID = subject.String
	v.Kind = core.RecommendationKind(kind)
	v.Priority = core.Priority(priority)
	v.Status = core.RecommendationStatus(status)
	v.Metadata = decodeMetadata(meta)
	v.CreatedAt = parseTime(created)
	v.UpdatedAt = parseTime(updated)

	if subject.Valid && amount.Valid {
		ref := &SpendingRef{
			ID:         subject.String,
			Amount:     amount.Float64,
			Category:   category.String,
			Vendor:     vendor.String,
			Department: dept.String,
		}
		if date.String != "" {
			if d, err := core.ParseDate(date.String); err == nil {
				ref.Date = d
			}
		}
		v.Spending = ref
	}
	return v, nil
}
