package http

import (
	"errors"
	"net/http"

	applog "dogepal/internal/log"
	"dogepal/internal/storage"
)

// decodeBody decodes and validates a request body, writing the error
// response itself when it returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	details, err := decodeJSON(w, r, dst)
	switch {
	case errors.Is(err, errBadRequest):
		BadRequestError(err.Error()).Write(w)
		return false
	case err != nil:
		writeError(w, r, "decode_request", err)
		return false
	case details != nil:
		ValidationError(details).Write(w)
		return false
	}
	return true
}

func (s *Server) handleCreateSpending(w http.ResponseWriter, r *http.Request) {
	var req spendingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := req.toTransaction()
	if err != nil {
		ValidationError(map[string]string{"spending_date": "must be a date formatted YYYY-MM-DD"}).Write(w)
		return
	}

	created, err := s.spending.Create(r.Context(), t)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogSpendingCreated(r.Context(), created.ID, created.Amount, created.Category, created.Department)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/v1/spending/"+created.ID).
		Body(newSpendingResponse(created)).
		Write(w)
}

func (s *Server) handleListSpending(w http.ResponseWriter, r *http.Request) {
	q := newQueryParser(r.URL.Query())
	f := storage.SpendingFilter{
		Category:   q.String("category"),
		Department: q.String("department"),
		MinAmount:  q.Float("min_amount"),
		MaxAmount:  q.Float("max_amount"),
		StartDate:  q.Date("start_date"),
		EndDate:    q.Date("end_date"),
		Search:     q.String("search"),
		Skip:       q.Int("skip", 0),
		Limit:      q.Int("limit", 0),
	}
	if errs := q.Err(); errs != nil {
		ValidationError(errs).Write(w)
		return
	}

	items, err := s.spending.List(r.Context(), f)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	out := make([]spendingResponse, 0, len(items))
	for _, t := range items {
		out = append(out, newSpendingResponse(t))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleGetSpending(w http.ResponseWriter, r *http.Request) {
	t, err := s.spending.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Body(newSpendingResponse(t)).Write(w)
}

func (s *Server) handleUpdateSpending(w http.ResponseWriter, r *http.Request) {
	var req spendingUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		ValidationError(map[string]string{"spending_date": "must be a date formatted YYYY-MM-DD"}).Write(w)
		return
	}

	t, err := s.spending.Update(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(newSpendingResponse(t)).Write(w)
}

func (s *Server) handleDeleteSpending(w http.ResponseWriter, r *http.Request) {
	if err := s.spending.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSpendingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.spending.Summary(r.Context())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Body(newSummaryResponse(summary)).Write(w)
}
