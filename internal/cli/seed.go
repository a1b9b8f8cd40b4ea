package cli

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"dogepal/internal/core"
)

var (
	seedBoroughs    = []string{"Manhattan", "Brooklyn", "Queens", "Bronx", "Staten Island"}
	seedDepartments = []string{"Technology", "HR", "Finance", "Public Works", "Operations"}
	seedCategories  = []string{"Office Supplies", "Services", "Hardware", "Training", "Software"}
	seedVendors     = []string{
		"ABC Office Supplies", "Tech Solutions Inc.", "Citywide Consulting",
		"Empire State Services", "Gotham IT", "Metro Office Supply",
		"Urban Development Group", "Five Boroughs Consulting",
	}
	// One small purchase each, enough to trigger vendor consolidation.
	seedSmallVendors = []string{
		"Corner Stationery", "Bodega Print Shop", "Harlem Hardware",
		"Flushing Cable Co", "Astoria Snacks", "Red Hook Repairs",
		"Inwood Couriers", "Tottenville Tools",
	}
	seedProjects = []string{
		"Citywide Network Upgrade", "Public School Modernization",
		"Parks Renovation", "Infrastructure Maintenance",
		"Community Development", "Public Safety Initiative",
	}
	seedUserTypes     = []string{"city_official", "department_head", "admin"}
	seedApprovals     = []string{"pending", "approved", "rejected"}
	seedJustification = []string{
		"Quarterly replenishment", "Emergency replacement", "Annual license renewal",
		"Contracted maintenance", "Staff development", "Pilot programme",
	}
)

// categoryRange is the typical amount span per category.
var categoryRange = map[string][2]float64{
	"Office Supplies": {100, 1500},
	"Services":        {1000, 6000},
	"Hardware":        {2000, 9000},
	"Training":        {500, 4000},
	"Software":        {800, 12000},
}

// SampleGenerator produces realistic spending for demos and load tests.
// Every outlierEvery-th record lands far above its category range.
type SampleGenerator struct {
	rng          *rand.Rand
	now          time.Time
	outlierEvery int
}

func NewSampleGenerator(seed uint64, now time.Time) *SampleGenerator {
	return &SampleGenerator{
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:          now,
		outlierEvery: 25,
	}
}

// Generate returns n regular transactions over the past year followed by
// one purchase from each small vendor.
func (g *SampleGenerator) Generate(n int) []core.Transaction {
	out := make([]core.Transaction, 0, n+len(seedSmallVendors))
	for i := 0; i < n; i++ {
		category := pick(g.rng, seedCategories)
		span := categoryRange[category]
		amount := span[0] + g.rng.Float64()*(span[1]-span[0])
		if g.outlierEvery > 0 && (i+1)%g.outlierEvery == 0 {
			amount = span[1] * (8 + g.rng.Float64()*8)
		}
		out = append(out, g.transaction(i, category, pick(g.rng, seedVendors), amount))
	}
	for j, vendor := range seedSmallVendors {
		amount := 50 + g.rng.Float64()*400
		out = append(out, g.transaction(n+j, "Office Supplies", vendor, amount))
	}
	return out
}

func (g *SampleGenerator) transaction(i int, category, vendor string, amount float64) core.Transaction {
	date := g.now.AddDate(0, 0, -g.rng.IntN(365))
	return core.Transaction{
		ID:             fmt.Sprintf("seed-%05d", i+1),
		Amount:         math.Round(amount*100) / 100,
		Category:       category,
		Vendor:         vendor,
		Department:     pick(g.rng, seedDepartments),
		Date:           core.NewDate(date.Year(), int(date.Month()), date.Day()),
		UserID:         fmt.Sprintf("user_%d", 1+g.rng.IntN(10)),
		UserType:       pick(g.rng, seedUserTypes),
		ProjectName:    pick(g.rng, seedProjects),
		Borough:        pick(g.rng, seedBoroughs),
		Justification:  pick(g.rng, seedJustification),
		ApprovalStatus: pick(g.rng, seedApprovals),
	}
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}
