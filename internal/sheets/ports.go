package sheets

import (
	"context"

	"dogepal/internal/core"
)

// Ports for outbound adapters.
type (
	// RecommendationExporter publishes stored recommendations to an external
	// sheet for review outside the API.
	RecommendationExporter interface {
		// Export appends recs and returns the number of rows written.
		Export(ctx context.Context, recs []core.Recommendation) (int, error)
	}
)

// Header is the first row of an exported recommendations sheet.
var Header = []any{
	"ID", "Created", "Kind", "Priority", "Confidence", "Potential savings",
	"Transaction", "Title", "Description", "Status",
}

// Row renders one recommendation in Header order.
func Row(r core.Recommendation) []any {
	subject := r.SubjectID
	if subject == "" {
		subject = "-"
	}
	status := r.Status
	if status == "" {
		status = core.StatusPending
	}
	return []any{
		r.ID,
		r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		string(r.Kind),
		string(r.Priority),
		r.ConfidenceScore,
		core.RoundCents(r.PotentialSavings),
		subject,
		r.Title,
		r.Description,
		string(status),
	}
}
