package analysis

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"dogepal/internal/core"
)

// GroupBy selects the partition a transaction is compared against.
type GroupBy string

const (
	GroupByCategory   GroupBy = "category"
	GroupByDepartment GroupBy = "department"
)

// SavingsMode selects how anomaly savings are estimated.
type SavingsMode string

const (
	// SavingsFraction estimates savings as a fixed share of the amount.
	SavingsFraction SavingsMode = "fraction"
	// SavingsExcess estimates savings as the amount above the baseline mean.
	SavingsExcess SavingsMode = "excess"
)

// Benchmark is a reference baseline for a category or department. Mean and
// StdDev stand in for observed statistics when a group is too small;
// SavingsRate is the share of an over-benchmark amount considered recoverable.
type Benchmark struct {
	Mean        float64 `toml:"mean"`
	StdDev      float64 `toml:"std_dev"`
	SavingsRate float64 `toml:"savings_rate"`
}

type AnomalyRule struct {
	GroupBy         GroupBy     `toml:"group_by"`
	ZThreshold      float64     `toml:"z_threshold"`
	BaseConfidence  float64     `toml:"base_confidence"`
	ConfidenceScale float64     `toml:"confidence_scale"`
	MaxConfidence   float64     `toml:"max_confidence"`
	SavingsMode     SavingsMode `toml:"savings_mode"`
	SavingsFraction float64     `toml:"savings_fraction"`
}

type CategoryRule struct {
	Multiplier float64 `toml:"multiplier"`
	Confidence float64 `toml:"confidence"`
}

type VendorRule struct {
	SmallVendorThreshold float64 `toml:"small_vendor_threshold"`
	// MinSmallVendors is exclusive: the rule fires with more than this many.
	MinSmallVendors   int     `toml:"min_small_vendors"`
	SavingsRate       float64 `toml:"savings_rate"`
	MaxConfidence     float64 `toml:"max_confidence"`
	ConfidenceDivisor float64 `toml:"confidence_divisor"`
}

// Rules holds every tunable constant of the engine.
type Rules struct {
	// MinObservations is the group size from which observed statistics
	// replace reference benchmarks.
	MinObservations int `toml:"min_observations"`

	Anomaly  AnomalyRule  `toml:"anomaly"`
	Category CategoryRule `toml:"category"`
	Vendor   VendorRule   `toml:"vendor"`

	DefaultBaseline Benchmark            `toml:"default_baseline"`
	DefaultCategory Benchmark            `toml:"default_category"`
	Departments     map[string]Benchmark `toml:"departments"`
	Categories      map[string]Benchmark `toml:"categories"`
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		MinObservations: 5,
		Anomaly: AnomalyRule{
			GroupBy:         GroupByCategory,
			ZThreshold:      2.0,
			BaseConfidence:  0.7,
			ConfidenceScale: 0.05,
			MaxConfidence:   0.99,
			SavingsMode:     SavingsFraction,
			SavingsFraction: 0.25,
		},
		Category: CategoryRule{
			Multiplier: 1.5,
			Confidence: 0.8,
		},
		Vendor: VendorRule{
			SmallVendorThreshold: 1000,
			MinSmallVendors:      3,
			SavingsRate:          0.10,
			MaxConfidence:        0.9,
			ConfidenceDivisor:    10,
		},
		DefaultBaseline: Benchmark{Mean: 10000, StdDev: 5000},
		DefaultCategory: Benchmark{Mean: 1500, SavingsRate: 0.05},
		Departments: map[string]Benchmark{
			"technology":   {Mean: 15000, StdDev: 5000},
			"hr":           {Mean: 8000, StdDev: 2000},
			"finance":      {Mean: 12000, StdDev: 4000},
			"public works": {Mean: 25000, StdDev: 10000},
			"operations":   {Mean: 10000, StdDev: 3000},
		},
		Categories: map[string]Benchmark{
			"office supplies": {Mean: 800, SavingsRate: 0.15},
			"services":        {Mean: 3000, SavingsRate: 0.20},
			"hardware":        {Mean: 5000, SavingsRate: 0.12},
			"training":        {Mean: 2000, SavingsRate: 0.10},
		},
	}
}

// LoadRules reads a TOML rules file over the defaults. A missing path
// returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return rules, fmt.Errorf("reading rules: %w", err)
	}

	if err := toml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parsing rules: %w", err)
	}
	rules.Departments = normalizeBenchmarks(rules.Departments)
	rules.Categories = normalizeBenchmarks(rules.Categories)

	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// Validate checks every constant and returns all problems at once.
func (r Rules) Validate() error {
	var errs []string

	if r.MinObservations < 2 {
		errs = append(errs, fmt.Sprintf("min_observations %d: must be at least 2", r.MinObservations))
	}

	switch r.Anomaly.GroupBy {
	case GroupByCategory, GroupByDepartment:
	default:
		errs = append(errs, fmt.Sprintf("anomaly.group_by %q: must be %q or %q", r.Anomaly.GroupBy, GroupByCategory, GroupByDepartment))
	}
	switch r.Anomaly.SavingsMode {
	case SavingsFraction, SavingsExcess:
	default:
		errs = append(errs, fmt.Sprintf("anomaly.savings_mode %q: must be %q or %q", r.Anomaly.SavingsMode, SavingsFraction, SavingsExcess))
	}
	if r.Anomaly.ZThreshold <= 0 {
		errs = append(errs, "anomaly.z_threshold: must be positive")
	}
	if !unit(r.Anomaly.BaseConfidence) || !unit(r.Anomaly.MaxConfidence) {
		errs = append(errs, "anomaly confidences: must be within [0,1]")
	}
	if r.Anomaly.ConfidenceScale < 0 {
		errs = append(errs, "anomaly.confidence_scale: must not be negative")
	}
	if !unit(r.Anomaly.SavingsFraction) {
		errs = append(errs, "anomaly.savings_fraction: must be within [0,1]")
	}

	if r.Category.Multiplier <= 0 {
		errs = append(errs, "category.multiplier: must be positive")
	}
	if !unit(r.Category.Confidence) {
		errs = append(errs, "category.confidence: must be within [0,1]")
	}

	if r.Vendor.SmallVendorThreshold <= 0 {
		errs = append(errs, "vendor.small_vendor_threshold: must be positive")
	}
	if r.Vendor.MinSmallVendors < 0 {
		errs = append(errs, "vendor.min_small_vendors: must not be negative")
	}
	if !unit(r.Vendor.SavingsRate) || !unit(r.Vendor.MaxConfidence) {
		errs = append(errs, "vendor rates: must be within [0,1]")
	}
	if r.Vendor.ConfidenceDivisor <= 0 {
		errs = append(errs, "vendor.confidence_divisor: must be positive")
	}

	if r.DefaultBaseline.StdDev <= 0 {
		errs = append(errs, "default_baseline.std_dev: must be positive")
	}
	if r.DefaultCategory.Mean <= 0 || !unit(r.DefaultCategory.SavingsRate) {
		errs = append(errs, "default_category: mean must be positive and savings_rate within [0,1]")
	}
	for name, b := range r.Categories {
		if b.Mean < 0 || b.StdDev < 0 || !unit(b.SavingsRate) {
			errs = append(errs, fmt.Sprintf("categories.%s: values must be non-negative and savings_rate within [0,1]", name))
		}
	}
	for name, b := range r.Departments {
		if b.Mean < 0 || b.StdDev < 0 || !unit(b.SavingsRate) {
			errs = append(errs, fmt.Sprintf("departments.%s: values must be non-negative and savings_rate within [0,1]", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("rules validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// benchmarkKey folds "office_supplies" and "Office Supplies" together.
func benchmarkKey(s string) string {
	return strings.ReplaceAll(core.NormalizeKey(s), "_", " ")
}

// normalizeBenchmarks rekeys a benchmark table. Keys written in a
// non-canonical form ("Office_Supplies") override the canonical entry they
// fold into, so a rules file can replace a default under any spelling.
func normalizeBenchmarks(in map[string]Benchmark) map[string]Benchmark {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]Benchmark, len(in))
	for _, k := range keys {
		if benchmarkKey(k) == k {
			out[k] = in[k]
		}
	}
	for _, k := range keys {
		if nk := benchmarkKey(k); nk != k {
			out[nk] = in[k]
		}
	}
	return out
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
