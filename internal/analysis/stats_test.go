package analysis

import (
	"math"
	"testing"

	"dogepal/internal/core"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		amounts []float64
		want    GroupStats
	}{
		{"empty", nil, GroupStats{}},
		{"single", []float64{42}, GroupStats{Mean: 42, Median: 42, StdDev: 0, Count: 1, Total: 42}},
		{"even", []float64{4, 2, 8, 6}, GroupStats{Mean: 5, Median: 5, StdDev: math.Sqrt(5), Count: 4, Total: 20}},
		{"odd", []float64{1, 3, 2}, GroupStats{Mean: 2, Median: 2, StdDev: math.Sqrt(2.0 / 3.0), Count: 3, Total: 6}},
		{"constant", []float64{7, 7, 7}, GroupStats{Mean: 7, Median: 7, StdDev: 0, Count: 3, Total: 21}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.amounts)
			if got.Count != tt.want.Count {
				t.Fatalf("Count = %d, want %d", got.Count, tt.want.Count)
			}
			for field, pair := range map[string][2]float64{
				"Mean":   {got.Mean, tt.want.Mean},
				"Median": {got.Median, tt.want.Median},
				"StdDev": {got.StdDev, tt.want.StdDev},
				"Total":  {got.Total, tt.want.Total},
			} {
				if math.Abs(pair[0]-pair[1]) > 1e-9 {
					t.Errorf("%s = %v, want %v", field, pair[0], pair[1])
				}
			}
		})
	}
}

func TestDescribeDoesNotModifyInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Describe(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("input reordered: %v", in)
	}
}

func TestAggregateNormalisesKeys(t *testing.T) {
	txns := []core.Transaction{
		{ID: "1", Amount: 100, Category: "Software", Department: "IT"},
		{ID: "2", Amount: 300, Category: " software ", Department: "it"},
		{ID: "3", Amount: 50, Category: "Hardware", Department: "Finance"},
	}

	cats := ByCategory(txns)
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %d: %v", len(cats), cats)
	}
	if s := cats["software"]; s.Count != 2 || s.Total != 400 || s.Mean != 200 {
		t.Errorf("unexpected software stats %+v", s)
	}

	deps := ByDepartment(txns)
	if s := deps["it"]; s.Count != 2 {
		t.Errorf("expected 2 it transactions, got %+v", s)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if got := ByCategory(nil); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestAggregatePermutationInvariant(t *testing.T) {
	a := []core.Transaction{
		{Amount: 0.1, Category: "x"}, {Amount: 0.2, Category: "x"}, {Amount: 0.3, Category: "x"},
		{Amount: 1e9, Category: "x"}, {Amount: 1e-9, Category: "x"},
	}
	b := []core.Transaction{a[3], a[1], a[4], a[0], a[2]}

	if ByCategory(a)["x"] != ByCategory(b)["x"] {
		t.Errorf("statistics depend on input order: %+v vs %+v", ByCategory(a)["x"], ByCategory(b)["x"])
	}
}

func TestZScore(t *testing.T) {
	if got := ZScore(300, 100, 100); got != 2 {
		t.Errorf("ZScore = %v, want 2", got)
	}
	if got := ZScore(1e6, 100, 0); got != 0 {
		t.Errorf("zero deviation must give 0, got %v", got)
	}
}
