package admin

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/middleware"
)

const queryTimeout = 10 * time.Second

// NewRouter builds the admin HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /admin/reference/refresh   → reference data refresh job
//	POST   /admin/titles/refresh      → title ingestion job
//	POST   /admin/titles/enrich       → enrichment backfill job
//	GET    /admin/jobs/{id}           → job status
//	GET    /admin/store/summary       → store item count and cache stats
//	POST   /admin/cache/invalidate    → drop every cached pair
//	GET    /admin/titles              → titles for sources × genres
//	PUT    /admin/users/{id}/preferences → replace a user's preferences
//	GET    /admin/users/{id}/titles   → titles for a user's preferences
//	GET    /admin/sources, /admin/genres → stored reference data
//	GET    /health/live, /health/ready
//	GET    /metrics
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Logging → Metrics → RateLimit (POST only) → handler
//
// A nil limiter disables trigger rate limiting.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /admin/reference/refresh", h.RefreshReference)
	mux.HandleFunc("POST /admin/titles/refresh", h.RefreshTitles)
	mux.HandleFunc("POST /admin/titles/enrich", h.EnrichTitles)
	mux.HandleFunc("GET /admin/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /admin/store/summary", h.StoreSummary)
	mux.HandleFunc("POST /admin/cache/invalidate", h.InvalidateCache)
	mux.Handle("GET /admin/titles", middleware.Timeout(queryTimeout, m)(http.HandlerFunc(h.ListTitles)))
	mux.HandleFunc("PUT /admin/users/{id}/preferences", h.SetUserPreferences)
	mux.Handle("GET /admin/users/{id}/titles", middleware.Timeout(queryTimeout, m)(http.HandlerFunc(h.ListUserTitles)))
	mux.HandleFunc("GET /admin/sources", h.ListSources)
	mux.HandleFunc("GET /admin/genres", h.ListGenres)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Logging,
		middleware.Metrics(m),
	}
	if limiter != nil {
		mws = append(mws, middleware.RateLimit(limiter, http.MethodPost))
	}
	return middleware.Chain(mux, mws...)
}
