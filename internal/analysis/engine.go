package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"dogepal/internal/core"
	applog "dogepal/internal/log"
)

var ErrInvalidMinConfidence = errors.New("min confidence must be within [0,1]")

// Baseline sources reported in recommendation metadata.
const (
	SourceObserved  = "observed"
	SourceReference = "reference"
)

// Engine evaluates the recommendation rules over a snapshot of transactions.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	rules  Rules
	logger *applog.Logger
}

// Skipped describes a record the engine could not evaluate.
type Skipped struct {
	Index  int
	ID     string
	Reason error
}

// Report is the full result of one evaluation pass.
type Report struct {
	Recommendations []core.Recommendation
	Skipped         []Skipped
	Evaluated       int
	Categories      map[string]GroupStats
	Departments     map[string]GroupStats
}

type baseline struct {
	mean   float64
	std    float64
	rate   float64
	source string
}

func NewEngine(rules Rules, logger *applog.Logger) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	rules.Departments = normalizeBenchmarks(rules.Departments)
	rules.Categories = normalizeBenchmarks(rules.Categories)

	if logger == nil {
		logger = applog.New(applog.Config{Handler: slog.Default().Handler()})
	}
	return &Engine{
		rules:  rules,
		logger: logger.WithComponent(applog.ComponentEngine),
	}, nil
}

// Rules returns the rule set the engine was built with.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Evaluate returns the recommendations whose confidence is at least
// minConfidence.
func (e *Engine) Evaluate(txns []core.Transaction, minConfidence float64) ([]core.Recommendation, error) {
	report, err := e.EvaluateReport(txns, minConfidence)
	if err != nil {
		return nil, err
	}
	return report.Recommendations, nil
}

// EvaluateReport runs every rule and also returns skipped records and the
// statistics the rules were evaluated against.
func (e *Engine) EvaluateReport(txns []core.Transaction, minConfidence float64) (Report, error) {
	if !unit(minConfidence) {
		return Report{}, fmt.Errorf("%w: got %v", ErrInvalidMinConfidence, minConfidence)
	}

	report := Report{Recommendations: []core.Recommendation{}}
	valid := make([]core.Transaction, 0, len(txns))
	for i, t := range txns {
		if err := t.Validate(); err != nil {
			report.Skipped = append(report.Skipped, Skipped{Index: i, ID: t.ID, Reason: err})
			e.logger.Warn("Skipping malformed transaction",
				"index", i,
				applog.FieldSpendingID, t.ID,
				applog.FieldError, err)
			continue
		}
		valid = append(valid, t)
	}
	report.Evaluated = len(valid)
	report.Categories = ByCategory(valid)
	report.Departments = ByDepartment(valid)

	anomalyKey, anomalyStats := CategoryKey, report.Categories
	if e.rules.Anomaly.GroupBy == GroupByDepartment {
		anomalyKey, anomalyStats = DepartmentKey, report.Departments
	}

	keep := func(r core.Recommendation) {
		if r.ConfidenceScore >= minConfidence {
			report.Recommendations = append(report.Recommendations, r)
		}
	}

	for _, t := range valid {
		key := anomalyKey(t)
		if r, ok := e.anomaly(t, key, anomalyStats[key]); ok {
			keep(r)
		}
		cat := CategoryKey(t)
		if r, ok := e.categoryCost(t, cat, report.Categories[cat]); ok {
			keep(r)
		}
	}
	if r, ok := e.vendorConsolidation(valid); ok {
		keep(r)
	}

	e.logger.Debug("Evaluation finished",
		applog.FieldOperation, applog.OpEvaluate,
		applog.FieldCount, len(report.Recommendations),
		applog.FieldSkipped, len(report.Skipped))

	return report, nil
}

// anomalyBaseline resolves the mean and deviation a transaction is scored
// against: observed statistics for well-populated groups, the configured
// reference otherwise.
func (e *Engine) anomalyBaseline(key string, observed GroupStats) baseline {
	if observed.Count >= e.rules.MinObservations {
		return baseline{mean: observed.Mean, std: observed.StdDev, source: SourceObserved}
	}

	table := e.rules.Categories
	if e.rules.Anomaly.GroupBy == GroupByDepartment {
		table = e.rules.Departments
	}
	if b, ok := table[benchmarkKey(key)]; ok && b.StdDev > 0 {
		return baseline{mean: b.Mean, std: b.StdDev, source: SourceReference}
	}
	d := e.rules.DefaultBaseline
	return baseline{mean: d.Mean, std: d.StdDev, source: SourceReference}
}

func (e *Engine) categoryBaseline(key string, observed GroupStats) baseline {
	ref, ok := e.rules.Categories[benchmarkKey(key)]
	if !ok || ref.Mean <= 0 {
		ref = e.rules.DefaultCategory
	}
	rate := ref.SavingsRate
	if rate == 0 {
		rate = e.rules.DefaultCategory.SavingsRate
	}

	if observed.Count >= e.rules.MinObservations {
		return baseline{mean: observed.Mean, rate: rate, source: SourceObserved}
	}
	return baseline{mean: ref.Mean, rate: rate, source: SourceReference}
}

func (e *Engine) anomaly(t core.Transaction, key string, stats GroupStats) (core.Recommendation, bool) {
	// Equal amounts are never anomalous, even when a small group is scored
	// against a reference benchmark.
	if stats.Count <= 1 || stats.StdDev == 0 {
		return core.Recommendation{}, false
	}

	rule := e.rules.Anomaly
	base := e.anomalyBaseline(key, stats)
	z := ZScore(t.Amount, base.mean, base.std)
	if z <= rule.ZThreshold {
		return core.Recommendation{}, false
	}

	confidence := roundScore(math.Min(rule.MaxConfidence, rule.BaseConfidence+z*rule.ConfidenceScale))

	var savings float64
	switch rule.SavingsMode {
	case SavingsExcess:
		savings = t.Amount - base.mean
	default:
		savings = t.Amount * rule.SavingsFraction
	}
	savings = core.RoundCents(math.Max(0, savings))

	return core.Recommendation{
		SubjectID:        t.ID,
		Kind:             core.KindSpendingAnomaly,
		Title:            anomalyTitle(t, rule.GroupBy),
		Description:      anomalyDescription(t, z, rule.GroupBy),
		Explanation:      anomalyExplanation(t, base, z, rule.ZThreshold),
		PotentialSavings: savings,
		ConfidenceScore:  confidence,
		Priority:         core.PriorityFor(confidence),
		Status:           core.StatusPending,
		Metadata: map[string]any{
			"rule":            "anomaly",
			"group_by":        string(rule.GroupBy),
			"group":           key,
			"group_count":     stats.Count,
			"baseline_source": base.source,
			"mean":            base.mean,
			"std_dev":         base.std,
			"z_score":         z,
		},
	}, true
}

func (e *Engine) categoryCost(t core.Transaction, key string, stats GroupStats) (core.Recommendation, bool) {
	rule := e.rules.Category
	base := e.categoryBaseline(key, stats)
	if base.mean <= 0 || t.Amount <= rule.Multiplier*base.mean {
		return core.Recommendation{}, false
	}

	confidence := roundScore(rule.Confidence)
	return core.Recommendation{
		SubjectID:        t.ID,
		Kind:             core.KindCostSaving,
		Title:            costTitle(t),
		Description:      costDescription(t, base),
		Explanation:      costExplanation(t, base, rule.Multiplier),
		PotentialSavings: core.RoundCents(math.Max(0, t.Amount*base.rate)),
		ConfidenceScore:  confidence,
		Priority:         core.PriorityFor(confidence),
		Status:           core.StatusPending,
		Metadata: map[string]any{
			"rule":            "category_cost",
			"category":        key,
			"group_count":     stats.Count,
			"baseline_source": base.source,
			"mean":            base.mean,
			"multiplier":      rule.Multiplier,
			"savings_rate":    base.rate,
		},
	}, true
}

func (e *Engine) vendorConsolidation(txns []core.Transaction) (core.Recommendation, bool) {
	rule := e.rules.Vendor
	totals := Aggregate(txns, VendorKey)

	display := make(map[string]string, len(totals))
	for _, t := range txns {
		k := VendorKey(t)
		if _, ok := display[k]; !ok {
			display[k] = cleanVendor(t.Vendor)
		}
	}

	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var small []string
	var sum float64
	for _, k := range keys {
		if totals[k].Total < rule.SmallVendorThreshold {
			small = append(small, display[k])
			sum += totals[k].Total
		}
	}
	if len(small) <= rule.MinSmallVendors {
		return core.Recommendation{}, false
	}

	confidence := roundScore(math.Min(rule.MaxConfidence, float64(len(small))/rule.ConfidenceDivisor))
	return core.Recommendation{
		Kind:             core.KindVendorConsolidation,
		Title:            "Vendor Consolidation Opportunity",
		Description:      vendorDescription(len(small), sum),
		Explanation:      vendorExplanation(small, rule.SmallVendorThreshold),
		PotentialSavings: core.RoundCents(math.Max(0, sum*rule.SavingsRate)),
		ConfidenceScore:  confidence,
		Priority:         core.PriorityFor(confidence),
		Status:           core.StatusPending,
		Metadata: map[string]any{
			"rule":          "vendor_consolidation",
			"small_vendors": small,
			"small_total":   sum,
			"threshold":     rule.SmallVendorThreshold,
			"total_vendors": len(totals),
			"savings_rate":  rule.SavingsRate,
		},
	}, true
}

// roundScore clamps a confidence to [0,1] and rounds it to four decimals so
// stored scores compare cleanly against the priority cut-offs.
func roundScore(v float64) float64 {
	return math.Round(clamp01(v)*1e4) / 1e4
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
