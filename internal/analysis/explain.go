package analysis

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"dogepal/internal/core"
)

// Money formats an amount as "$1,234.50".
func Money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func cleanVendor(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

func groupName(t core.Transaction, by GroupBy) string {
	if by == GroupByDepartment {
		return strings.TrimSpace(t.Department)
	}
	return strings.TrimSpace(t.Category)
}

func anomalyTitle(t core.Transaction, by GroupBy) string {
	return fmt.Sprintf("Unusual %s spending", groupName(t, by))
}

func anomalyDescription(t core.Transaction, z float64, by GroupBy) string {
	return fmt.Sprintf("Spending of %s with %s is %.1f standard deviations above the %s average.",
		Money(t.Amount), cleanVendor(t.Vendor), z, by)
}

func anomalyExplanation(t core.Transaction, b baseline, z, threshold float64) string {
	var src string
	if b.source == SourceObserved {
		src = "recorded spending in this group"
	} else {
		src = "the reference benchmark for this group"
	}
	return fmt.Sprintf("Compared with %s (average %s, deviation %s), this amount has a z-score of %.2f, above the %.1f alert threshold. Review whether the purchase was necessary and competitively priced.",
		src, Money(b.mean), Money(b.std), z, threshold)
}

func costTitle(t core.Transaction) string {
	return fmt.Sprintf("Cost optimization in %s", strings.TrimSpace(t.Category))
}

func costDescription(t core.Transaction, b baseline) string {
	return fmt.Sprintf("Spending of %s exceeds the %s category average of %s.",
		Money(t.Amount), strings.TrimSpace(t.Category), Money(b.mean))
}

func costExplanation(t core.Transaction, b baseline, multiplier float64) string {
	return fmt.Sprintf("Amounts above %.1fx the category average usually leave room to negotiate. Alternative vendors or bulk purchasing could save about %.0f%% of this purchase.",
		multiplier, b.rate*100)
}

func vendorDescription(count int, total float64) string {
	return fmt.Sprintf("%d small vendors account for %s in total spending.", count, Money(total))
}

func vendorExplanation(vendors []string, threshold float64) string {
	return fmt.Sprintf("Vendors each below %s: %s. Consolidating these purchases with fewer suppliers could unlock volume discounts and reduce administrative overhead.",
		Money(threshold), strings.Join(vendors, ", "))
}
