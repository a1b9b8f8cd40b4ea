package analysis

import (
	"math"
	"sort"

	"dogepal/internal/core"
)

// GroupStats summarises the amounts of one group of transactions.
type GroupStats struct {
	Mean   float64
	Median float64
	StdDev float64 // population standard deviation
	Count  int
	Total  float64
}

// KeyFunc extracts the grouping key of a transaction.
type KeyFunc func(core.Transaction) string

func CategoryKey(t core.Transaction) string   { return core.NormalizeKey(t.Category) }
func DepartmentKey(t core.Transaction) string { return core.NormalizeKey(t.Department) }
func VendorKey(t core.Transaction) string     { return core.NormalizeKey(t.Vendor) }

// Aggregate groups transactions by key and computes statistics per group.
// Amounts are accumulated in sorted order so any permutation of the input
// yields bit-identical results.
func Aggregate(txns []core.Transaction, key KeyFunc) map[string]GroupStats {
	groups := make(map[string][]float64)
	for _, t := range txns {
		k := key(t)
		groups[k] = append(groups[k], t.Amount)
	}

	out := make(map[string]GroupStats, len(groups))
	for k, amounts := range groups {
		out[k] = Describe(amounts)
	}
	return out
}

// ByCategory is Aggregate keyed by normalised category.
func ByCategory(txns []core.Transaction) map[string]GroupStats {
	return Aggregate(txns, CategoryKey)
}

// ByDepartment is Aggregate keyed by normalised department.
func ByDepartment(txns []core.Transaction) map[string]GroupStats {
	return Aggregate(txns, DepartmentKey)
}

// Describe computes statistics for a list of amounts. The slice is not
// modified. Lists of length <= 1 have a zero standard deviation.
func Describe(amounts []float64) GroupStats {
	n := len(amounts)
	if n == 0 {
		return GroupStats{}
	}

	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	mean := total / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var std float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(n))
	}

	return GroupStats{
		Mean:   mean,
		Median: median,
		StdDev: std,
		Count:  n,
		Total:  total,
	}
}

// ZScore returns how many standard deviations value lies from mean, or 0
// when std is zero.
func ZScore(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}
