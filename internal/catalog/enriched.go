package catalog

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
)

// Placeholder is written for a detail the provider does not have, so that a
// title with no poster still counts as enriched.
const Placeholder = "N/A"

// EnrichmentFields lists every attribute the enricher writes. The enricher
// reacts to its own writes on the change feed; AlreadyEnriched over exactly
// these fields is what ends that loop. A field added to the enricher's
// output must be added here.
var EnrichmentFields = []string{AttrPoster, AttrPlotOverview, AttrUserRating}

// AlreadyEnriched reports whether every enrichment field is present and
// non-empty. Strings must be non-blank; the rating must be a number (zero is
// the stored value for "no rating").
func AlreadyEnriched(attrs kvstore.Attrs) bool {
	for _, field := range EnrichmentFields {
		v, ok := attrs[field]
		if !ok || v == nil {
			return false
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				return false
			}
		case float64, int, int64:
		default:
			return false
		}
	}
	return true
}

// DetailAttrs turns provider details into the attributes the enricher
// writes, filling gaps with Placeholder and a zero rating.
func DetailAttrs(d Details) kvstore.Attrs {
	poster := strings.TrimSpace(d.Poster)
	if poster == "" {
		poster = Placeholder
	}
	plot := strings.TrimSpace(d.PlotOverview)
	if plot == "" {
		plot = Placeholder
	}
	rating := 0.0
	if d.UserRating != nil {
		rating = *d.UserRating
	}
	return kvstore.Attrs{
		AttrPoster:       poster,
		AttrPlotOverview: plot,
		AttrUserRating:   rating,
	}
}

// HasArtwork reports whether a title has a real poster and plot, not
// placeholders. Listings skip titles without them.
func (t CanonicalTitle) HasArtwork() bool {
	return present(t.Poster) && present(t.PlotOverview)
}

func present(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != Placeholder
}
