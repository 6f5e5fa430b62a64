// Package account retrieves the user's saved resources from their site
// account: the message template and the saved search filters. Both are
// fetched fresh every cycle so changes made in the browser take effect
// without a restart.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wg-finder/extract"
	"wg-finder/fetcher"
)

const (
	templatesPath = "/mein-wg-gesucht-message-templates.html"
	filtersPath   = "/mein-wg-gesucht-filter.html"
)

// Preconditions for a cycle. Both are fatal: without a template there is
// nothing to send, without filters there is nothing to search.
var (
	ErrNoTemplate = errors.New("no message template saved in the account")
	ErrNoFilters  = errors.New("no search filters saved in the account")
)

// Fetcher is the slice of the page fetcher the retriever needs.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetcher.Page, error)
	BaseURL() string
}

// Retriever fetches and validates account resources.
type Retriever struct {
	fetch  Fetcher
	site   *extract.Site
	logger *slog.Logger
}

// New creates a Retriever.
func New(fetch Fetcher, site *extract.Site, logger *slog.Logger) *Retriever {
	return &Retriever{fetch: fetch, site: site, logger: logger}
}

// Template returns the text of the user's saved message template. An empty
// name picks the first template; otherwise the name is matched
// case-insensitively. A missing or empty template is fatal.
func (r *Retriever) Template(ctx context.Context, name string) (string, error) {
	r.logger.Info("Retrieving message template...")

	page, err := r.fetch.Get(ctx, r.fetch.BaseURL()+templatesPath)
	if err != nil {
		return "", fmt.Errorf("fetch templates page: %w", err)
	}

	templates := r.site.Templates(page.Doc)
	if len(templates) == 0 {
		return "", ErrNoTemplate
	}

	text := ""
	if name == "" {
		text = templates[0].Text
	} else {
		for _, t := range templates {
			if strings.EqualFold(strings.TrimSpace(t.Name), strings.TrimSpace(name)) {
				text = t.Text
				break
			}
		}
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoTemplate
	}

	r.logger.Info("Message template retrieved", "length", len(text))
	return text, nil
}

// Filters returns the user's saved search filters. A non-empty names list
// restricts the result to those filters; a partial match is a warning, no
// match at all is fatal.
func (r *Retriever) Filters(ctx context.Context, names []string) ([]extract.FilterLink, error) {
	page, err := r.fetch.Get(ctx, r.fetch.BaseURL()+filtersPath)
	if err != nil {
		return nil, fmt.Errorf("fetch filters page: %w", err)
	}

	all := r.site.FilterLinks(page.Doc)

	filters := all
	if len(names) > 0 {
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[strings.ToLower(strings.TrimSpace(n))] = true
		}
		filters = nil
		for _, f := range all {
			if wanted[strings.ToLower(f.Name)] {
				filters = append(filters, f)
			}
		}
		if len(filters) != len(names) {
			r.logger.Warn("Not all requested filters were found, maybe one is misspelled?",
				"requested", len(names), "matched", len(filters))
		}
	}

	if len(filters) == 0 {
		return nil, ErrNoFilters
	}

	r.logger.Info("Filters found", "count", len(filters))
	return filters, nil
}
