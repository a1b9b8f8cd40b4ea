package http

import (
	"time"

	"dogepal/internal/core"
	"dogepal/internal/services"
	"dogepal/internal/storage"
)

type spendingRequest struct {
	TransactionID  string         `json:"transaction_id" validate:"max=64"`
	Amount         float64        `json:"amount" validate:"gt=0"`
	Category       string         `json:"category" validate:"required,max=100"`
	Vendor         string         `json:"vendor" validate:"required,max=200"`
	Department     string         `json:"department" validate:"required,max=100"`
	SpendingDate   string         `json:"spending_date" validate:"required,datetime=2006-01-02"`
	UserID         string         `json:"user_id" validate:"max=100"`
	UserType       string         `json:"user_type" validate:"max=50"`
	ProjectName    string         `json:"project_name" validate:"max=200"`
	Borough        string         `json:"borough" validate:"max=100"`
	Justification  string         `json:"justification" validate:"max=2000"`
	ApprovalStatus string         `json:"approval_status" validate:"omitempty,oneof=pending approved rejected"`
	Metadata       map[string]any `json:"metadata"`
}

func (r spendingRequest) toTransaction() (core.Transaction, error) {
	date, err := core.ParseDate(r.SpendingDate)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:             r.TransactionID,
		Amount:         r.Amount,
		Category:       r.Category,
		Vendor:         r.Vendor,
		Department:     r.Department,
		Date:           date,
		UserID:         r.UserID,
		UserType:       r.UserType,
		ProjectName:    r.ProjectName,
		Borough:        r.Borough,
		Justification:  r.Justification,
		ApprovalStatus: r.ApprovalStatus,
		Metadata:       r.Metadata,
	}, nil
}

type spendingUpdateRequest struct {
	Amount         *float64 `json:"amount" validate:"omitempty,gt=0"`
	Category       *string  `json:"category" validate:"omitempty,min=1,max=100"`
	Vendor         *string  `json:"vendor" validate:"omitempty,min=1,max=200"`
	Department     *string  `json:"department" validate:"omitempty,min=1,max=100"`
	SpendingDate   *string  `json:"spending_date" validate:"omitempty,datetime=2006-01-02"`
	UserID         *string  `json:"user_id" validate:"omitempty,max=100"`
	UserType       *string  `json:"user_type" validate:"omitempty,max=50"`
	ProjectName    *string  `json:"project_name" validate:"omitempty,max=200"`
	Borough        *string  `json:"borough" validate:"omitempty,max=100"`
	Justification  *string  `json:"justification" validate:"omitempty,max=2000"`
	ApprovalStatus *string  `json:"approval_status" validate:"omitempty,oneof=pending approved rejected"`
}

func (r spendingUpdateRequest) toUpdate() (storage.SpendingUpdate, error) {
	u := storage.SpendingUpdate{
		Amount:         r.Amount,
		Category:       r.Category,
		Vendor:         r.Vendor,
		Department:     r.Department,
		UserID:         r.UserID,
		UserType:       r.UserType,
		ProjectName:    r.ProjectName,
		Borough:        r.Borough,
		Justification:  r.Justification,
		ApprovalStatus: r.ApprovalStatus,
	}
	if r.SpendingDate != nil {
		d, err := core.ParseDate(*r.SpendingDate)
		if err != nil {
			return storage.SpendingUpdate{}, err
		}
		u.Date = &d
	}
	return u, nil
}

type recommendationUpdateRequest struct {
	Status      *string `json:"status" validate:"omitempty,oneof=pending implemented rejected archived"`
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Explanation *string `json:"explanation" validate:"omitempty,max=4000"`
}

func (r recommendationUpdateRequest) toUpdate() storage.RecommendationUpdate {
	u := storage.RecommendationUpdate{
		Title:       r.Title,
		Description: r.Description,
		Explanation: r.Explanation,
	}
	if r.Status != nil {
		s := core.RecommendationStatus(*r.Status)
		u.Status = &s
	}
	return u
}

type spendingResponse struct {
	TransactionID  string         `json:"transaction_id"`
	Amount         float64        `json:"amount"`
	Category       string         `json:"category"`
	Vendor         string         `json:"vendor"`
	Department     string         `json:"department"`
	SpendingDate   string         `json:"spending_date"`
	UserID         string         `json:"user_id,omitempty"`
	UserType       string         `json:"user_type,omitempty"`
	ProjectName    string         `json:"project_name,omitempty"`
	Borough        string         `json:"borough,omitempty"`
	Justification  string         `json:"justification,omitempty"`
	ApprovalStatus string         `json:"approval_status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func newSpendingResponse(t core.Transaction) spendingResponse {
	return spendingResponse{
		TransactionID:  t.ID,
		Amount:         t.Amount,
		Category:       t.Category,
		Vendor:         t.Vendor,
		Department:     t.Department,
		SpendingDate:   t.Date.String(),
		UserID:         t.UserID,
		UserType:       t.UserType,
		ProjectName:    t.ProjectName,
		Borough:        t.Borough,
		Justification:  t.Justification,
		ApprovalStatus: t.ApprovalStatus,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

type categoryTotalResponse struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Total    float64 `json:"total"`
}

type summaryResponse struct {
	Count      int                     `json:"count"`
	Total      float64                 `json:"total_amount"`
	Average    float64                 `json:"average_amount"`
	Max        float64                 `json:"max_amount"`
	Min        float64                 `json:"min_amount"`
	Categories []categoryTotalResponse `json:"category_distribution"`
}

func newSummaryResponse(s storage.SpendingSummary) summaryResponse {
	out := summaryResponse{
		Count:      s.Count,
		Total:      core.RoundCents(s.Total),
		Average:    core.RoundCents(s.Average),
		Max:        s.Max,
		Min:        s.Min,
		Categories: make([]categoryTotalResponse, 0, len(s.Categories)),
	}
	for _, c := range s.Categories {
		out.Categories = append(out.Categories, categoryTotalResponse{Category: c.Category, Count: c.Count, Total: core.RoundCents(c.Total)})
	}
	return out
}

type spendingRefResponse struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	Vendor        string  `json:"vendor"`
	Department    string  `json:"department"`
	SpendingDate  string  `json:"spending_date"`
}

type recommendationResponse struct {
	ID               string               `json:"id"`
	SpendingID       string               `json:"spending_id,omitempty"`
	Type             string               `json:"recommendation_type"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Explanation      string               `json:"explanation"`
	PotentialSavings float64              `json:"potential_savings"`
	ConfidenceScore  float64              `json:"confidence_score"`
	Priority         string               `json:"priority"`
	Status           string               `json:"status"`
	Metadata         map[string]any       `json:"metadata,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Spending         *spendingRefResponse `json:"spending,omitempty"`
}

func newRecommendationResponse(r core.Recommendation, ref *storage.SpendingRef) recommendationResponse {
	out := recommendationResponse{
		ID:               r.ID,
		SpendingID:       r.SubjectID,
		Type:             string(r.Kind),
		Title:            r.Title,
		Description:      r.Description,
		Explanation:      r.Explanation,
		PotentialSavings: r.PotentialSavings,
		ConfidenceScore:  r.ConfidenceScore,
		Priority:         string(r.Priority),
		Status:           string(r.Status),
		Metadata:         r.Metadata,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if ref != nil {
		out.Spending = &spendingRefResponse{
			TransactionID: ref.ID,
			Amount:        ref.Amount,
			Category:      ref.Category,
			Vendor:        ref.Vendor,
			Department:    ref.Department,
			SpendingDate:  ref.Date.String(),
		}
	}
	return out
}

type statsResponse struct {
	Total             int            `json:"total_recommendations"`
	TotalSavings      float64        `json:"total_potential_savings"`
	AverageConfidence float64        `json:"average_confidence"`
	ByType            map[string]int `json:"recommendations_by_type"`
	ByStatus          map[string]int `json:"recommendations_by_status"`
}

func newStatsResponse(s storage.RecommendationStats) statsResponse {
	return statsResponse{
		Total:             s.Total,
		TotalSavings:      core.RoundCents(s.TotalSavings),
		AverageConfidence: s.AverageConfidence,
		ByType:            s.ByKind,
		ByStatus:          s.ByStatus,
	}
}

type skippedResponse struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason"`
}

type generateResponse struct {
	Evaluated       int                      `json:"evaluated"`
	Generated       int                      `json:"generated"`
	Stored          int                      `json:"stored"`
	Duplicates      int                      `json:"duplicates"`
	Skipped         []skippedResponse        `json:"skipped"`
	Recommendations []recommendationResponse `json:"recommendations"`
}

func newGenerateResponse(res services.GenerateResult) generateResponse {
	out := generateResponse{
		Evaluated:       res.Evaluated,
		Generated:       res.Generated,
		Stored:          len(res.Stored),
		Duplicates:      res.Duplicates,
		Skipped:         make([]skippedResponse, 0, len(res.Skipped)),
		Recommendations: make([]recommendationResponse, 0, len(res.Stored)),
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, skippedResponse{Index: s.Index, TransactionID: s.ID, Reason: s.Reason.Error()})
	}
	for _, r := range res.Stored {
		out.Recommendations = append(out.Recommendations, newRecommendationResponse(r, nil))
	}
	return out
}
