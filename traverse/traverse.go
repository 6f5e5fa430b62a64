// Package traverse walks the paginated search results of every saved
// filter and collects the ads worth contacting: recent, not yet in the
// ledger, not already collected this cycle.
package traverse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wg-finder/extract"
	"wg-finder/fetcher"
	"wg-finder/pkg/wg"
)

// dateLayout is the posting-date format of the results table.
const dateLayout = "02.01.2006"

// recencyWindowDays is the sliding lookback: only ads posted on or after
// today minus this many days are candidates.
const recencyWindowDays = 2

// Fetcher is the slice of the page fetcher the engine needs.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetcher.Page, error)
}

// Ledger answers whether an ad has been contacted before.
type Ledger interface {
	Contains(adURL string) (bool, error)
}

// Engine traverses search results one filter at a time.
type Engine struct {
	fetch  Fetcher
	site   *extract.Site
	ledger Ledger
	logger *slog.Logger
}

// New creates a traversal engine.
func New(fetch Fetcher, site *extract.Site, ledger Ledger, logger *slog.Logger) *Engine {
	return &Engine{fetch: fetch, site: site, ledger: ledger, logger: logger}
}

// Run traverses all filters and returns the deduplicated candidate set.
// Filters are independent: one filter hitting its stop condition never
// cuts another one short. An error means the run itself cannot continue
// (challenge page, network gone).
func (e *Engine) Run(ctx context.Context, filters []extract.FilterLink) ([]wg.Candidate, error) {
	e.logger.Info("Searching filters for new ads, this may take a while depending on how many filters you have",
		"filters", len(filters))

	var candidates []wg.Candidate
	seen := make(map[string]bool)

	for _, flt := range filters {
		found, err := e.traverseFilter(ctx, flt, seen)
		if err != nil {
			return nil, fmt.Errorf("traverse filter %q: %w", flt.Name, err)
		}
		candidates = append(candidates, found...)
	}

	e.logger.Info("Search finished", "new_ads", len(candidates))
	return candidates, nil
}

// traverseFilter pages through one filter's results. All traversal state
// is local to this call so nothing can leak between filters.
func (e *Engine) traverseFilter(ctx context.Context, flt extract.FilterLink, seen map[string]bool) ([]wg.Candidate, error) {
	e.logger.Debug("Traversing filter", "name", flt.Name, "url", flt.URL)

	cutoff := dateOnly(time.Now()).AddDate(0, 0, -recencyWindowDays)

	var candidates []wg.Candidate
	pageURL := flt.URL

	for {
		page, err := e.fetch.Get(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		// The results may render as a gallery; the row extractor needs the
		// compact list view, reachable through an embedded switch link.
		if listURL, gallery := e.site.ListViewURL(page.Doc); gallery {
			page, err = e.fetch.Get(ctx, listURL)
			if err != nil {
				return nil, err
			}
		}

		rows := e.site.ResultRows(page.Doc)

		// Rows arrive newest first. The first row past the recency window
		// ends this filter completely: everything after it is older still.
		// A row without a parsable date (inactive or expired ad) is the
		// same stop signal, not something to skip over.
		stop := false
		for _, row := range rows {
			posted, err := time.Parse(dateLayout, row.DateText)
			if err != nil {
				e.logger.Debug("Row without parsable date, stopping filter",
					"filter", flt.Name, "date_text", row.DateText)
				stop = true
				break
			}
			if posted.Before(cutoff) {
				stop = true
				break
			}

			if row.URL == "" || seen[row.URL] {
				continue
			}
			seen[row.URL] = true

			contacted, err := e.ledger.Contains(row.URL)
			if err != nil {
				return nil, fmt.Errorf("check ledger: %w", err)
			}
			if contacted {
				continue
			}

			candidates = append(candidates, wg.Candidate{URL: row.URL, PostedOn: posted})
		}

		if stop {
			return candidates, nil
		}

		next, ok := e.site.NextPageURL(page.Doc)
		if !ok {
			return candidates, nil
		}
		pageURL = next
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
