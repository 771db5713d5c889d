// Package aggregator turns every stored user preference into the distinct
// set of (source, genre) work items for one ingestion run, so provider cost
// grows with distinct pairs and not with users.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
)

// PreferenceReader lists every stored preference row.
type PreferenceReader interface {
	Preferences(ctx context.Context) ([]catalog.UserPreference, error)
}

// Aggregator builds the work plan.
//
// Pairing rules:
//   - per_user: each user contributes their own sources × their own genres.
//     A user with only sources or only genres contributes nothing and is
//     reported as excluded.
//   - global: every distinct source any user chose × every distinct genre
//     any user chose.
type Aggregator struct {
	prefs   PreferenceReader
	pairing string
	logger  *slog.Logger
}

func New(prefs PreferenceReader, pairing string) *Aggregator {
	if pairing == "" {
		pairing = config.PairingPerUser
	}
	return &Aggregator{
		prefs:   prefs,
		pairing: pairing,
		logger:  slog.Default().With("component", "preference-aggregator"),
	}
}

type userPrefs struct {
	sources []catalog.ID
	genres  []catalog.ID
}

// Aggregate reads all preferences and returns the plan. A storage failure is
// returned as is; no partial plan is produced.
func (a *Aggregator) Aggregate(ctx context.Context) (ingestion.Plan, error) {
	prefs, err := a.prefs.Preferences(ctx)
	if err != nil {
		return ingestion.Plan{}, fmt.Errorf("reading preferences: %w", err)
	}

	byUser := make(map[string]*userPrefs)
	for _, p := range prefs {
		u, ok := byUser[p.UserID]
		if !ok {
			u = &userPrefs{}
			byUser[p.UserID] = u
		}
		switch p.Kind {
		case catalog.KindSource:
			u.sources = append(u.sources, p.ValueID)
		case catalog.KindGenre:
			u.genres = append(u.genres, p.ValueID)
		}
	}

	var plan ingestion.Plan
	switch a.pairing {
	case config.PairingGlobal:
		plan = globalPairs(byUser)
	case config.PairingPerUser:
		plan = perUserPairs(byUser)
	default:
		return ingestion.Plan{}, fmt.Errorf("unknown pairing rule %q", a.pairing)
	}

	log := logger.Attach(ctx, a.logger)
	for _, user := range plan.ExcludedUsers {
		u := byUser[user]
		log.Warn("user preferences produce no work items",
			"user_id", user,
			"sources", len(u.sources),
			"genres", len(u.genres),
		)
	}
	log.Info("preferences aggregated",
		"pairing", a.pairing,
		"users", plan.Users,
		"users_excluded", len(plan.ExcludedUsers),
		"work_items", len(plan.WorkItems),
	)
	return plan, nil
}

func perUserPairs(byUser map[string]*userPrefs) ingestion.Plan {
	plan := ingestion.Plan{Users: len(byUser)}
	seen := make(map[ingestion.WorkItem]struct{})
	for user, u := range byUser {
		sources, genres := catalog.Distinct(u.sources), catalog.Distinct(u.genres)
		if len(sources) == 0 || len(genres) == 0 {
			plan.ExcludedUsers = append(plan.ExcludedUsers, user)
			continue
		}
		for _, s := range sources {
			for _, g := range genres {
				seen[ingestion.WorkItem{SourceID: s, GenreID: g}] = struct{}{}
			}
		}
	}
	plan.WorkItems = sortedItems(seen)
	sort.Strings(plan.ExcludedUsers)
	return plan
}

func globalPairs(byUser map[string]*userPrefs) ingestion.Plan {
	plan := ingestion.Plan{Users: len(byUser)}
	var sources, genres []catalog.ID
	for _, u := range byUser {
		sources = append(sources, u.sources...)
		genres = append(genres, u.genres...)
	}
	seen := make(map[ingestion.WorkItem]struct{})
	for _, s := range catalog.Distinct(sources) {
		for _, g := range catalog.Distinct(genres) {
			seen[ingestion.WorkItem{SourceID: s, GenreID: g}] = struct{}{}
		}
	}
	plan.WorkItems = sortedItems(seen)
	return plan
}

func sortedItems(set map[ingestion.WorkItem]struct{}) []ingestion.WorkItem {
	items := make([]ingestion.WorkItem, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SourceID != items[j].SourceID {
			return catalog.Less(items[i].SourceID, items[j].SourceID)
		}
		return catalog.Less(items[i].GenreID, items[j].GenreID)
	})
	return items
}
