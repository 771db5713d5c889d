// Package admin is the operator surface of the pipeline: it triggers
// reference refreshes, ingestion runs and enrichment backfills as background
// jobs, reports job status and answers title queries for dashboards.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/enricher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/query"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/refdata"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
)

// Job kinds.
const (
	JobReferenceRefresh = "reference_refresh"
	JobTitleIngestion   = "title_ingestion"
	JobEnrichment       = "enrichment"
)

type Ingestor interface {
	Run(ctx context.Context, cause string) (ingestion.RunSummary, error)
}

type Backfiller interface {
	Backfill(ctx context.Context) (enricher.BackfillSummary, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (refdata.Summary, error)
}

type TitleQuerier interface {
	GetTitlesForPreferences(ctx context.Context, sources, genres []catalog.ID, f query.Filter) ([]catalog.CanonicalTitle, error)
	TitlesForUser(ctx context.Context, userID string, f query.Filter) ([]catalog.CanonicalTitle, error)
}

// QueryCache is the operator view of the pair cache.
type QueryCache interface {
	InvalidateAll(ctx context.Context) error
	Stats() (hits, misses int64)
}

// Deps are the collaborators behind the admin endpoints.
type Deps struct {
	Ingestor  Ingestor
	Enricher  Backfiller
	Refresher Refresher
	Query     TitleQuerier
	Store     kvstore.Store
	Jobs      *Registry
	// Cache is nil when query caching is off.
	Cache QueryCache
}

// Handler implements the admin HTTP endpoints.
type Handler struct {
	deps   Deps
	repo   *catalog.Repository
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		repo:   catalog.NewRepository(deps.Store),
		logger: logger.WithComponent("admin-handler"),
	}
}

type acceptedResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// RefreshReference starts a reference data refresh.
func (h *Handler) RefreshReference(w http.ResponseWriter, r *http.Request) {
	job := h.deps.Jobs.Submit(JobReferenceRefresh, func(ctx context.Context) (any, int, error) {
		s, err := h.deps.Refresher.Refresh(ctx)
		return s, 0, err
	})
	h.accepted(w, r, job, "reference data refresh started")
}

// RefreshTitles starts an ingestion run outside the schedule.
func (h *Handler) RefreshTitles(w http.ResponseWriter, r *http.Request) {
	job := h.deps.Jobs.Submit(JobTitleIngestion, func(ctx context.Context) (any, int, error) {
		s, err := h.deps.Ingestor.Run(ctx, ingestion.CauseManual)
		return s, s.Skipped(), err
	})
	h.accepted(w, r, job, "title ingestion started")
}

// EnrichTitles starts an enrichment backfill over stored titles.
func (h *Handler) EnrichTitles(w http.ResponseWriter, r *http.Request) {
	job := h.deps.Jobs.Submit(JobEnrichment, func(ctx context.Context) (any, int, error) {
		s, err := h.deps.Enricher.Backfill(ctx)
		return s, s.Skipped, err
	})
	h.accepted(w, r, job, "title enrichment started")
}

func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, job Job, message string) {
	logger.FromContext(r.Context()).Info("job accepted", "kind", job.Kind, "job_id", job.ID)
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Message: message, JobID: job.ID})
}

// GetJob reports the status of a job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "job id is required")
		return
	}
	job, err := h.deps.Jobs.Get(id)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// StoreSummary reports how many items the store holds.
func (h *Handler) StoreSummary(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Store.Count(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("store count failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to count store items")
		return
	}
	summary := map[string]any{"item_count": n}
	if h.deps.Cache != nil {
		hits, misses := h.deps.Cache.Stats()
		summary["query_cache"] = map[string]int64{"hits": hits, "misses": misses}
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// InvalidateCache drops every cached pair so the next queries read the store.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeError(w, http.StatusConflict, "query cache is disabled")
		return
	}
	if err := h.deps.Cache.InvalidateAll(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "failed to invalidate query cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferencesRequest struct {
	SourceIDs []catalog.ID `json:"source_ids"`
	GenreIDs  []catalog.ID `json:"genre_ids"`
}

// SetUserPreferences replaces a user's stored sources and genres. The next
// ingestion run picks them up.
func (h *Handler) SetUserPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAppError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid preferences body: %v", err))
		return
	}
	if err := h.repo.SetPreferences(r.Context(), userID, req.SourceIDs, req.GenreIDs); err != nil {
		logger.FromContext(r.Context()).Error("saving preferences failed", "user_id", userID, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to save preferences")
		return
	}
	sources, genres, err := h.repo.UserPreferences(r.Context(), userID)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to read preferences back")
		return
	}
	logger.FromContext(r.Context()).Info("preferences saved", "user_id", userID, "sources", len(sources), "genres", len(genres))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"source_ids": sources,
		"genre_ids":  genres,
	})
}

// ListUserTitles answers GET /admin/users/{id}/titles with the same filter
// parameters as ListTitles, using the user's stored preferences.
func (h *Handler) ListUserTitles(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	q := r.URL.Query()
	f, err := parseFilter(q.Get("recommended"), q.Get("enriched"), q.Get("min_rating"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	titles, err := h.deps.Query.TitlesForUser(r.Context(), userID, f)
	if err != nil {
		logger.FromContext(r.Context()).Error("user title query failed", "user_id", userID, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to query titles")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"titles":  titles,
		"total":   len(titles),
	})
}

// ListSources returns the stored reference sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.Sources(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing sources failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to list sources")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "total": len(sources)})
}

// ListGenres returns the stored reference genres.
func (h *Handler) ListGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.repo.Genres(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing genres failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to list genres")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"genres": genres, "total": len(genres)})
}

// ListTitles answers
// GET /admin/titles?source_ids=203,349&genre_ids=4[&enriched=true][&min_rating=7][&recommended=true].
func (h *Handler) ListTitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sources := splitIDs(q.Get("source_ids"))
	genres := splitIDs(q.Get("genre_ids"))
	if len(sources) == 0 || len(genres) == 0 {
		h.writeError(w, http.StatusBadRequest, "source_ids and genre_ids are required")
		return
	}

	f, err := parseFilter(q.Get("recommended"), q.Get("enriched"), q.Get("min_rating"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	titles, err := h.deps.Query.GetTitlesForPreferences(r.Context(), sources, genres, f)
	if err != nil {
		logger.FromContext(r.Context()).Error("title query failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "failed to query titles")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"titles": titles,
		"total":  len(titles),
	})
}

func parseFilter(recommended, enriched, minRating string) (query.Filter, error) {
	var f query.Filter
	if recommended != "" {
		on, err := strconv.ParseBool(recommended)
		if err != nil {
			return f, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "recommended must be a boolean")
		}
		if on {
			f = query.Recommended()
		}
	}
	if enriched != "" {
		on, err := strconv.ParseBool(enriched)
		if err != nil {
			return f, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "enriched must be a boolean")
		}
		f.RequireEnriched = on
	}
	if minRating != "" {
		v, err := strconv.ParseFloat(minRating, 64)
		if err != nil {
			return f, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "min_rating must be a number, got %q", minRating)
		}
		f.MinRating = &v
	}
	return f, nil
}

func splitIDs(raw string) []catalog.ID {
	var ids []catalog.ID
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, catalog.ID(part))
		}
	}
	return ids
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, appErr.StatusCode, appErr.Message)
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}
