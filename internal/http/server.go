package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	applog "dogepal/internal/log"
	"dogepal/internal/metrics"
	"dogepal/internal/middleware/ratelimit"
	"dogepal/internal/middleware/security"
	"dogepal/internal/middleware/trace"
	"dogepal/internal/services"
)

// Options tunes the API server. Zero values fall back to defaults.
type Options struct {
	RateLimitRPS         float64
	RateLimitBurst       int
	DefaultMinConfidence float64
	// TrustedProxies extends the private networks whose X-Forwarded-For and
	// X-Real-IP headers identify the client.
	TrustedProxies []string
	Logger         *applog.Logger
}

// Deps are the services behind the handlers. Publisher is optional and only
// used for asynchronous generation; Ready backs /readyz.
type Deps struct {
	Spending        *services.SpendingService
	Recommendations *services.RecommendationService
	Publisher       services.GeneratePublisher
	Ready           func(context.Context) error
}

type Server struct {
	http.Server
	spending        *services.SpendingService
	recommendations *services.RecommendationService
	publisher       services.GeneratePublisher
	ready           func(context.Context) error
	minConfidence   float64

	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	if opts.DefaultMinConfidence <= 0 || opts.DefaultMinConfidence > 1 {
		opts.DefaultMinConfidence = 0.7
	}
	limitCfg := ratelimit.DefaultConfig()
	if opts.RateLimitRPS > 0 {
		limitCfg.RequestsPerSecond = opts.RateLimitRPS
		limitCfg.Burst = opts.RateLimitBurst
	}

	s := &Server{
		spending:        deps.Spending,
		recommendations: deps.Recommendations,
		publisher:       deps.Publisher,
		ready:           deps.Ready,
		minConfidence:   opts.DefaultMinConfidence,
		limiter:         ratelimit.NewLimiter(limitCfg),
		detector:        security.NewDetector(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			slog.Warn("Ignoring trusted proxy",
				applog.FieldComponent, applog.ComponentSecurity,
				applog.FieldError, err)
		}
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/spending", s.handleCreateSpending)
	api.HandleFunc("GET /api/v1/spending", s.handleListSpending)
	api.HandleFunc("GET /api/v1/spending/stats/summary", s.handleSpendingSummary)
	api.HandleFunc("GET /api/v1/spending/{id}", s.handleGetSpending)
	api.HandleFunc("PUT /api/v1/spending/{id}", s.handleUpdateSpending)
	api.HandleFunc("DELETE /api/v1/spending/{id}", s.handleDeleteSpending)

	api.HandleFunc("GET /api/v1/recommendations", s.handleListRecommendations)
	api.HandleFunc("POST /api/v1/recommendations/generate", s.handleGenerate)
	api.HandleFunc("GET /api/v1/recommendations/stats", s.handleRecommendationStats)
	api.HandleFunc("GET /api/v1/recommendations/{id}", s.handleGetRecommendation)
	api.HandleFunc("PUT /api/v1/recommendations/{id}", s.handleUpdateRecommendation)
	api.HandleFunc("DELETE /api/v1/recommendations/{id}", s.handleDeleteRecommendation)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/api/", limited(api))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(opts.Logger, s.detector.ExtractClientIP)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           tracer.Middleware(headers.Middleware(s.detector.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
