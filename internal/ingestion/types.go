// Package ingestion defines the values passed between the stages of a title
// ingestion run: the work plan produced from stored preferences, what was
// discovered per work item, and the run summary reported to the admin
// surface.
package ingestion

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
)

// PublishingComponent names this producer in event headers.
const PublishingComponent = "title-catalog-ingestion"

// Publish causes carried in event headers.
const (
	CauseScheduled = "scheduled_user_prefs_ingestion"
	CauseManual    = "admin_titles_refresh"
)

// WorkItem is one (source, genre) pair to fetch from the catalog provider.
type WorkItem struct {
	SourceID catalog.ID `json:"source_id"`
	GenreID  catalog.ID `json:"genre_id"`
}

func (w WorkItem) String() string {
	return fmt.Sprintf("(%s,%s)", w.SourceID, w.GenreID)
}

// Plan is the aggregator's output. It is built fresh for every run and
// handed to the later stages; nothing about it is kept between runs.
type Plan struct {
	WorkItems     []WorkItem
	Users         int
	ExcludedUsers []string
}

// Discovery is what the provider listed for one work item.
type Discovery struct {
	Item     WorkItem
	Listings []catalog.Listing
}

// RunSummary is the coarse outcome of one run.
type RunSummary struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Users            int       `json:"users"`
	UsersExcluded    int       `json:"users_excluded"`
	WorkItems        int       `json:"work_items"`
	PairsSkipped     int       `json:"pairs_skipped"`
	TitlesDiscovered int       `json:"titles_discovered"`
	EventsPublished  int       `json:"events_published"`
	EventsDropped    int       `json:"events_dropped"`
}

// Skipped is the number of units of work that did not make it through.
func (s RunSummary) Skipped() int {
	return s.PairsSkipped + s.EventsDropped
}
