package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

const (
	KindCostSaving          RecommendationKind = "cost_saving"
	KindBudgetOptimization  RecommendationKind = "budget_optimization"
	KindVendorConsolidation RecommendationKind = "vendor_consolidation"
	KindSpendingAnomaly     RecommendationKind = "spending_anomaly"
	KindPolicyViolation     RecommendationKind = "policy_violation"
)

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

const (
	StatusPending     RecommendationStatus = "pending"
	StatusImplemented RecommendationStatus = "implemented"
	StatusRejected    RecommendationStatus = "rejected"
	StatusArchived    RecommendationStatus = "archived"
)

type (
	RecommendationKind   string
	Priority             string
	RecommendationStatus string

	Date struct {
		time.Time
	}

	// Transaction is a single spending record. Only ID, Amount, Category,
	// Vendor, Department and Date take part in recommendation rules.
	Transaction struct {
		ID             string
		Amount         float64
		Category       string
		Vendor         string
		Department     string
		Date           Date
		UserID         string
		UserType       string
		ProjectName    string
		Borough        string
		Justification  string
		ApprovalStatus string
		Metadata       map[string]any
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	Recommendation struct {
		ID               string
		SubjectID        string // empty for aggregate recommendations
		Kind             RecommendationKind
		Title            string
		Description      string
		Explanation      string
		PotentialSavings float64
		ConfidenceScore  float64
		Priority         Priority
		Status           RecommendationStatus
		Metadata         map[string]any
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyID           = errors.New("empty transaction id")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptyVendor       = errors.New("empty vendor")
	ErrEmptyDepartment   = errors.New("empty department")
	ErrInvalidKind       = errors.New("invalid recommendation kind")
	ErrInvalidStatus     = errors.New("invalid recommendation status")
	ErrInvalidConfidence = errors.New("confidence score must be within [0,1]")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

// NormalizeKey trims and lower-cases free-text grouping keys.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate reports the first missing field that rules depend on.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(t.Vendor) == "" {
		return ErrEmptyVendor
	}
	if strings.TrimSpace(t.Department) == "" {
		return ErrEmptyDepartment
	}
	return nil
}

func (k RecommendationKind) Valid() bool {
	switch k {
	case KindCostSaving, KindBudgetOptimization, KindVendorConsolidation, KindSpendingAnomaly, KindPolicyViolation:
		return true
	}
	return false
}

func (s RecommendationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusImplemented, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// PriorityFor maps a confidence score onto a priority band.
func PriorityFor(confidence float64) Priority {
	switch {
	case confidence >= 0.8:
		return PriorityHigh
	case confidence >= 0.6:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// IsAggregate is true for recommendations not tied to one transaction.
func (r Recommendation) IsAggregate() bool {
	return r.SubjectID == ""
}

func (r Recommendation) Validate() error {
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if math.IsNaN(r.ConfidenceScore) || r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return ErrInvalidConfidence
	}
	if math.IsNaN(r.PotentialSavings) || r.PotentialSavings < 0 {
		return ErrInvalidAmount
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}
