// Package watchmode is the catalog provider client. It lists titles by
// source and genre, fetches title details and the reference source and genre
// catalogs. Transient failures are retried with exponential backoff (longer
// after a 429), calls are rate limited client-side and guarded by a circuit
// breaker.
package watchmode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

const maxErrorBody = 4 << 10

// Client talks to the WatchMode v1 API.
type Client struct {
	baseURL          string
	apiKey           string
	region           string
	pageLimit        int
	requestTimeout   time.Duration
	rateLimitBackoff time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a client from config. m may be nil.
func New(cfg config.CatalogConfig, m *metrics.Metrics) *Client {
	c := &Client{
		baseURL:          cfg.BaseURL,
		apiKey:           cfg.APIKey,
		region:           cfg.Region,
		pageLimit:        cfg.PageLimit,
		requestTimeout:   cfg.RequestTimeout,
		rateLimitBackoff: cfg.RateLimitBackoff,
		httpClient:       &http.Client{},
		metrics:          m,
		logger:           slog.Default().With("component", "watchmode"),
		now:              time.Now,
	}
	if c.pageLimit <= 0 {
		c.pageLimit = 20
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 20 * time.Second
	}
	if c.rateLimitBackoff <= 0 {
		c.rateLimitBackoff = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	c.retry = resilience.FromConfig(cfg.Retry)
	c.retry.ShouldRetry = apperrors.IsTransient

	c.breaker = resilience.NewCircuitBreaker("watchmode", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerReset,
		IsFailure:        apperrors.IsTransient,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// ListTitles returns the titles the provider lists for one (source, genre)
// pair in the configured region.
func (c *Client) ListTitles(ctx context.Context, sourceID, genreID catalog.ID) ([]catalog.Listing, error) {
	params := url.Values{}
	params.Set("source_ids", string(sourceID))
	params.Set("genres", string(genreID))
	params.Set("regions", c.region)
	params.Set("limit", strconv.Itoa(c.pageLimit))

	var resp listTitlesResponse
	if err := c.get(ctx, "list-titles", "/v1/list-titles/", params, &resp); err != nil {
		return nil, err
	}
	listings := make([]catalog.Listing, 0, len(resp.Titles))
	for _, raw := range resp.Titles {
		l, err := normalizeListing(raw)
		if err != nil {
			c.logger.Warn("skipping listing without id",
				"source_id", sourceID, "genre_id", genreID, "error", err)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// TitleDetails fetches the detail fields of one title.
func (c *Client) TitleDetails(ctx context.Context, id catalog.ID) (catalog.Details, error) {
	var d titleDetails
	path := "/v1/title/" + url.PathEscape(string(id)) + "/details/"
	if err := c.get(ctx, "title-details", path, nil, &d); err != nil {
		return catalog.Details{}, err
	}
	return catalog.Details{
		Poster:       d.Poster,
		PlotOverview: d.PlotOverview,
		UserRating:   d.UserRating,
	}, nil
}

// Sources lists the streaming sources available in regions (comma
// separated, defaults to the configured region).
func (c *Client) Sources(ctx context.Context, regions string) ([]catalog.Source, error) {
	if regions == "" {
		regions = c.region
	}
	params := url.Values{}
	params.Set("regions", regions)
	var out []catalog.Source
	if err := c.get(ctx, "sources", "/v1/sources/", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Genres lists every genre the provider knows.
func (c *Client) Genres(ctx context.Context) ([]catalog.Genre, error) {
	var out []catalog.Genre
	if err := c.get(ctx, "genres", "/v1/genres/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apiKey", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	err := resilience.Retry(ctx, "watchmode "+op, c.retry, func() error {
		err := c.breaker.Execute(func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("watchmode %s: waiting for rate limiter: %w", op, err)
			}
			return resilience.WithDeadline(ctx, c.requestTimeout, "watchmode "+op, func(ctx context.Context) error {
				return c.do(ctx, op, reqURL, out)
			})
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("watchmode %s: %w: %w", op, apperrors.ErrTransientAPI, err)
		}
		return err
	})
	c.observe(op, err)
	return err
}

func (c *Client) do(ctx context.Context, op, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("watchmode %s: create request: %w: %v", op, apperrors.ErrPermanentAPI, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("watchmode %s: %w: %v", op, apperrors.ErrTransientAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var body errorBody
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); len(raw) > 0 {
			if json.Unmarshal(raw, &body) == nil {
				apiErr.Message = body.Message
			}
		}
		if apiErr.RateLimited() {
			apiErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now(), c.rateLimitBackoff)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("watchmode %s: decode body: %w: %v", op, apperrors.ErrPermanentAPI, err)
	}
	return nil
}

func (c *Client) observe(op string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.RateLimited():
		outcome = "rate_limited"
	case apperrors.IsTransient(err):
		outcome = "transient"
	default:
		outcome = "permanent"
	}
	c.metrics.CatalogRequestsTotal.WithLabelValues(op, outcome).Inc()
}

func normalizeListing(raw map[string]any) (catalog.Listing, error) {
	var id catalog.ID
	rawID, ok := raw["id"]
	if !ok || rawID == nil {
		return catalog.Listing{}, fmt.Errorf("listing has no id")
	}
	b, err := json.Marshal(rawID)
	if err != nil {
		return catalog.Listing{}, err
	}
	if err := json.Unmarshal(b, &id); err != nil {
		return catalog.Listing{}, fmt.Errorf("listing id %v: %w", rawID, err)
	}
	if id == "" {
		return catalog.Listing{}, fmt.Errorf("listing has an empty id")
	}
	title, _ := raw["title"].(string)

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case catalog.AttrID, catalog.AttrTitle, catalog.AttrSourceIDs, catalog.AttrGenreIDs:
			continue
		}
		fields[k] = v
	}
	return catalog.Listing{ID: id, Title: title, Fields: fields}, nil
}
