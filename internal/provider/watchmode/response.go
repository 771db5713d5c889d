package watchmode

import "github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"

// listTitlesResponse is the body of GET /v1/list-titles/. Titles are kept as
// raw maps so that fields we do not model still reach the stream.
type listTitlesResponse struct {
	Titles       []map[string]any `json:"titles"`
	Page         int              `json:"page"`
	TotalResults int              `json:"total_results"`
	TotalPages   int              `json:"total_pages"`
}

// titleDetails is the subset of GET /v1/title/{id}/details/ we keep.
type titleDetails struct {
	ID           catalog.ID `json:"id"`
	Title        string     `json:"title"`
	PlotOverview string     `json:"plot_overview"`
	Poster       string     `json:"poster"`
	UserRating   *float64   `json:"user_rating"`
}

// errorBody is what the API sends alongside 4xx responses.
type errorBody struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"statusMessage"`
}
