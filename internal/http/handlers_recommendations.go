package http

import (
	"errors"
	"net/http"

	"dogepal/internal/amqp"
	"dogepal/internal/core"
	applog "dogepal/internal/log"
	"dogepal/internal/storage"
)

// listMinConfidence is the default floor for listing stored recommendations,
// lower than the generation default so older, weaker findings stay visible.
const listMinConfidence = 0.5

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	q := newQueryParser(r.URL.Query())
	f := storage.RecommendationFilter{
		Status:        core.RecommendationStatus(q.String("status")),
		Kind:          core.RecommendationKind(q.String("recommendation_type")),
		MinConfidence: q.Unit("min_confidence", listMinConfidence),
		Category:      q.String("category"),
		Department:    q.String("department"),
		Skip:          q.Int("skip", 0),
		Limit:         q.Int("limit", 0),
	}
	if f.Status != "" && !f.Status.Valid() {
		ValidationError(map[string]string{"status": "must be one of: pending implemented rejected archived"}).Write(w)
		return
	}
	if f.Kind != "" && !f.Kind.Valid() {
		ValidationError(map[string]string{"recommendation_type": "is not a known recommendation type"}).Write(w)
		return
	}
	if errs := q.Err(); errs != nil {
		ValidationError(errs).Write(w)
		return
	}

	views, err := s.recommendations.List(r.Context(), f)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	out := make([]recommendationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newRecommendationResponse(v.Recommendation, v.Spending))
	}
	NewJSONResponse().Body(out).Write(w)
}

// handleGenerate runs the engine synchronously, or queues a request for the
// worker when async=true and a broker is configured.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	q := newQueryParser(r.URL.Query())
	minConfidence := q.Unit("min_confidence", s.minConfidence)
	async := q.String("async") == "true"
	if errs := q.Err(); errs != nil {
		ValidationError(errs).Write(w)
		return
	}

	if async {
		if s.publisher == nil {
			ErrorResponse(http.StatusServiceUnavailable, "asynchronous generation is not configured").Write(w)
			return
		}
		msg := amqp.NewGenerateRequestMessage(amqp.ReasonManual, "", &minConfidence)
		if err := s.publisher.PublishGenerateRequest(r.Context(), msg); err != nil {
			if errors.Is(err, amqp.ErrCircuitOpen) {
				ErrorResponse(http.StatusServiceUnavailable, "broker unavailable").Write(w)
				return
			}
			writeError(w, r, applog.OpPublish, err)
			return
		}
		NewJSONResponse().
			Status(http.StatusAccepted).
			Body(map[string]any{"status": "queued", "min_confidence": minConfidence}).
			Write(w)
		return
	}

	res, err := s.recommendations.Generate(r.Context(), minConfidence)
	if err != nil {
		writeError(w, r, applog.OpGenerate, err)
		return
	}
	NewJSONResponse().Body(newGenerateResponse(res)).Write(w)
}

func (s *Server) handleRecommendationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recommendations.Stats(r.Context())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Body(newStatsResponse(stats)).Write(w)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	v, err := s.recommendations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Body(newRecommendationResponse(v.Recommendation, v.Spending)).Write(w)
}

func (s *Server) handleUpdateRecommendation(w http.ResponseWriter, r *http.Request) {
	var req recommendationUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := s.recommendations.Update(r.Context(), r.PathValue("id"), req.toUpdate())
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(newRecommendationResponse(v.Recommendation, v.Spending)).Write(w)
}

func (s *Server) handleDeleteRecommendation(w http.ResponseWriter, r *http.Request) {
	if err := s.recommendations.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
