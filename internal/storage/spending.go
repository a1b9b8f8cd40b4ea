package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dogepal/internal/core"
	applog "dogepal/internal/log"
)

var spendingColumns = []string{
	"transaction_id", "amount", "category", "vendor", "department", "spending_date",
	"user_id", "user_type", "project_name", "borough", "justification",
	"approval_status", "metadata", "created_at", "updated_at",
}

// SpendingFilter narrows ListSpending. Zero values are ignored.
type SpendingFilter struct {
	Category   string
	Department string
	MinAmount  *float64
	MaxAmount  *float64
	StartDate  *core.Date
	EndDate    *core.Date
	Search     string
	Skip       int
	Limit      int
}

// SpendingUpdate carries the fields to change; nil fields are left alone.
type SpendingUpdate struct {
	Amount         *float64
	Category       *string
	Vendor         *string
	Department     *string
	Date           *core.Date
	Justification  *string
	UserID         *string
	UserType       *string
	ProjectName    *string
	Borough        *string
	ApprovalStatus *string
}

// Empty reports whether the update changes nothing.
func (u SpendingUpdate) Empty() bool {
	return u.Amount == nil && u.Category == nil && u.Vendor == nil && u.Department == nil &&
		u.Date == nil && u.Justification == nil && u.UserID == nil && u.UserType == nil &&
		u.ProjectName == nil && u.Borough == nil && u.ApprovalStatus == nil
}

type CategoryTotal struct {
	Category string
	Count    int
	Total    float64
}

type SpendingSummary struct {
	Count      int
	Total      float64
	Average    float64
	Max        float64
	Min        float64
	Categories []CategoryTotal
}

// CreateSpending stores a new transaction. An empty ID is replaced with a
// generated one; an existing ID yields ErrConflict.
func (r *SQLiteRepository) CreateSpending(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = newID()
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate spending: %w", err)
	}
	if t.ApprovalStatus == "" {
		t.ApprovalStatus = "pending"
	}

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return core.Transaction{}, err
	}
	now := r.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	query, args, err := r.sb.Insert("spending").
		Columns(spendingColumns...).
		Values(
			t.ID, t.Amount, t.Category, t.Vendor, t.Department, t.Date.String(),
			t.UserID, t.UserType, t.ProjectName, t.Borough, t.Justification,
			t.ApprovalStatus, meta, formatTime(now), formatTime(now),
		).
		ToSql()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("build insert: %w", err)
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM spending WHERE transaction_id = ?", t.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check spending id: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("spending %s: %w", t.ID, ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert spending: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.DebugContext(ctx, "Spending stored",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldSpendingID, t.ID,
		applog.FieldAmount, t.Amount)

	return t, nil
}

func (r *SQLiteRepository) GetSpending(ctx context.Context, id string) (core.Transaction, error) {
	query, args, err := r.sb.Select(spendingColumns...).
		From("spending").
		Where(sq.Eq{"transaction_id": id}).
		ToSql()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("build select: %w", err)
	}

	t, err := scanSpending(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("spending %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get spending: %w", err)
	}
	return t, nil
}

// ListSpending returns transactions matching the filter, newest first.
func (r *SQLiteRepository) ListSpending(ctx context.Context, f SpendingFilter) ([]core.Transaction, error) {
	skip, limit := clampLimit(f.Skip, f.Limit)

	qb := r.sb.Select(spendingColumns...).From("spending")
	if f.Category != "" {
		qb = qb.Where("LOWER(category) = ?", core.NormalizeKey(f.Category))
	}
	if f.Department != "" {
		qb = qb.Where("LOWER(department) = ?", core.NormalizeKey(f.Department))
	}
	if f.MinAmount != nil {
		qb = qb.Where(sq.GtOrEq{"amount": *f.MinAmount})
	}
	if f.MaxAmount != nil {
		qb = qb.Where(sq.LtOrEq{"amount": *f.MaxAmount})
	}
	if f.StartDate != nil {
		qb = qb.Where(sq.GtOrEq{"spending_date": f.StartDate.String()})
	}
	if f.EndDate != nil {
		qb = qb.Where(sq.LtOrEq{"spending_date": f.EndDate.String()})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		qb = qb.Where(sq.Or{
			sq.Like{"LOWER(vendor)": pattern},
			sq.Like{"LOWER(justification)": pattern},
		})
	}

	query, args, err := qb.
		OrderBy("spending_date DESC", "created_at DESC", "transaction_id").
		Offset(skip).
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return r.querySpending(ctx, query, args...)
}

// Snapshot returns every stored transaction in a stable order, as input for
// the recommendation engine.
func (r *SQLiteRepository) Snapshot(ctx context.Context) ([]core.Transaction, error) {
	query, args, err := r.sb.Select(spendingColumns...).
		From("spending").
		OrderBy("spending_date", "transaction_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return r.querySpending(ctx, query, args...)
}

func (r *SQLiteRepository) UpdateSpending(ctx context.Context, id string, u SpendingUpdate) (core.Transaction, error) {
	current, err := r.GetSpending(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if u.Empty() {
		return current, nil
	}

	set := map[string]any{}
	apply := func(col string, dst *string, v *string) {
		if v != nil {
			set[col] = *v
			*dst = *v
		}
	}
	if u.Amount != nil {
		set["amount"] = *u.Amount
		current.Amount = *u.Amount
	}
	if u.Date != nil {
		set["spending_date"] = u.Date.String()
		current.Date = *u.Date
	}
	apply("category", &current.Category, u.Category)
	apply("vendor", &current.Vendor, u.Vendor)
	apply("department", &current.Department, u.Department)
	apply("justification", &current.Justification, u.Justification)
	apply("user_id", &current.UserID, u.UserID)
	apply("user_type", &current.UserType, u.UserType)
	apply("project_name", &current.ProjectName, u.ProjectName)
	apply("borough", &current.Borough, u.Borough)
	apply("approval_status", &current.ApprovalStatus, u.ApprovalStatus)

	if err := current.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate spending: %w", err)
	}

	now := r.now().UTC()
	set["updated_at"] = formatTime(now)
	current.UpdatedAt = now

	query, args, err := r.sb.Update("spending").
		SetMap(set).
		Where(sq.Eq{"transaction_id": id}).
		ToSql()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("build update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return core.Transaction{}, fmt.Errorf("update spending: %w", err)
	}
	return current, nil
}

// DeleteSpending removes a transaction and, through the foreign key, its
// recommendations.
func (r *SQLiteRepository) DeleteSpending(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("spending").Where(sq.Eq{"transaction_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete spending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spending %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SpendingSummary(ctx context.Context) (SpendingSummary, error) {
	var s SpendingSummary

	query, args, err := r.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(amount), 0)",
		"COALESCE(AVG(amount), 0)",
		"COALESCE(MAX(amount), 0)",
		"COALESCE(MIN(amount), 0)",
	).From("spending").ToSql()
	if err != nil {
		return s, fmt.Errorf("build summary: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&s.Count, &s.Total, &s.Average, &s.Max, &s.Min); err != nil {
		return s, fmt.Errorf("query summary: %w", err)
	}

	query, args, err = r.sb.Select("category", "COUNT(*)", "SUM(amount) AS total").
		From("spending").
		GroupBy("category").
		OrderBy("total DESC", "category").
		ToSql()
	if err != nil {
		return s, fmt.Errorf("build category totals: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s, fmt.Errorf("query category totals: %w", err)
	}
	defer rows.Close()

	s.Categories = []CategoryTotal{}
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Count, &ct.Total); err != nil {
			return s, fmt.Errorf("scan category total: %w", err)
		}
		s.Categories = append(s.Categories, ct)
	}
	return s, rows.Err()
}

func (r *SQLiteRepository) querySpending(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spending: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanSpending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spending: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spending: %w", err)
	}
	return out, nil
}

func scanSpending(row rowScanner) (core.Transaction, error) {
	var (
		t                           core.Transaction
		date, meta, created, update string
	)
	err := row.Scan(
		&t.ID, &t.Amount, &t.Category, &t.Vendor, &t.Department, &date,
		&t.UserID, &t.UserType, &t.ProjectName, &t.Borough, &t.Justification,
		&t.ApprovalStatus, &meta, &created, &update,
	)
	if err != nil {
		return core.Transaction{}, err
	}

	if date != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse spending date %q: %w", date, err)
		}
		t.Date = d
	}
	t.Metadata = decodeMetadata(meta)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(update)
	return t, nil
}
