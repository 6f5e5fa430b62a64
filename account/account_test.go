package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"wg-finder/extract"
	"wg-finder/fetcher"
)

const testBase = "https://example.test"

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Get(_ context.Context, pageURL string) (*fetcher.Page, error) {
	html, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("unexpected fetch of %s", pageURL)
	}
	return fetcher.ParsePage(pageURL, []byte(html))
}

func (f *fakeFetcher) BaseURL() string { return testBase }

func templatesPage(templates ...[2]string) string {
	page := "<html><body>"
	for _, tpl := range templates {
		page += fmt.Sprintf(`<div class="panel"><div class="panel-body">
			<div class="truncate_title">%s</div>
			<div class="truncate_title">%s</div>
		</div></div>`, tpl[0], tpl[1])
	}
	return page + "</body></html>"
}

func filtersPage(names ...string) string {
	page := "<html><body>"
	for i, name := range names {
		page += fmt.Sprintf(`<a id="filter_name_%d" href="/suche-%d.html">%s</a>`, i, i, name)
	}
	return page + "</body></html>"
}

func testRetriever(t *testing.T, fetch *fakeFetcher) *Retriever {
	t.Helper()
	site, err := extract.NewSite(testBase)
	if err != nil {
		t.Fatalf("NewSite() error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(fetch, site, logger)
}

func TestTemplateDefaultsToFirst(t *testing.T) {
	fetch := &fakeFetcher{pages: map[string]string{
		testBase + templatesPath: templatesPage(
			[2]string{"Standard", "Hallo, ich interessiere mich..."},
			[2]string{"Kurz", "Hi!"},
		),
	}}

	text, err := testRetriever(t, fetch).Template(context.Background(), "")
	if err != nil {
		t.Fatalf("Template() error: %v", err)
	}
	if text != "Hallo, ich interessiere mich..." {
		t.Errorf("template text = %q", text)
	}
}

func TestTemplateMatchesNameCaseInsensitively(t *testing.T) {
	fetch := &fakeFetcher{pages: map[string]string{
		testBase + templatesPath: templatesPage(
			[2]string{"Standard", "Hallo..."},
			[2]string{"Kurz", "Hi!"},
		),
	}}

	text, err := testRetriever(t, fetch).Template(context.Background(), "kurz")
	if err != nil {
		t.Fatalf("Template() error: %v", err)
	}
	if text != "Hi!" {
		t.Errorf("template text = %q", text)
	}
}

func TestTemplateMissingIsFatal(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"no templates saved", templatesPage(), ""},
		{"named template absent", templatesPage([2]string{"Standard", "Hallo"}), "Andere"},
		{"template text empty", templatesPage([2]string{"Standard", "  "}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch := &fakeFetcher{pages: map[string]string{testBase + templatesPath: tt.page}}
			if _, err := testRetriever(t, fetch).Template(context.Background(), tt.want); !errors.Is(err, ErrNoTemplate) {
				t.Errorf("Template() error = %v, want ErrNoTemplate", err)
			}
		})
	}
}

func TestFiltersReturnsAllByDefault(t *testing.T) {
	fetch := &fakeFetcher{pages: map[string]string{
		testBase + filtersPath: filtersPage("Berlin Mitte", "Berlin Kreuzberg"),
	}}

	filters, err := testRetriever(t, fetch).Filters(context.Background(), nil)
	if err != nil {
		t.Fatalf("Filters() error: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("got %d filters, want 2", len(filters))
	}
	if filters[0].Name != "Berlin Mitte" || filters[0].URL != testBase+"/suche-0.html" {
		t.Errorf("first filter = %+v", filters[0])
	}
}

func TestFiltersRestrictsToRequestedNames(t *testing.T) {
	fetch := &fakeFetcher{pages: map[string]string{
		testBase + filtersPath: filtersPage("Berlin Mitte", "Berlin Kreuzberg", "Hamburg"),
	}}

	filters, err := testRetriever(t, fetch).Filters(context.Background(), []string{"hamburg", "berlin mitte"})
	if err != nil {
		t.Fatalf("Filters() error: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("got %d filters, want 2", len(filters))
	}
	for _, f := range filters {
		if f.Name == "Berlin Kreuzberg" {
			t.Error("unrequested filter slipped through")
		}
	}
}

func TestFiltersNoneIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		names []string
	}{
		{"no filters saved", filtersPage(), nil},
		{"requested names all miss", filtersPage("Berlin"), []string{"Hamburg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch := &fakeFetcher{pages: map[string]string{testBase + filtersPath: tt.page}}
			if _, err := testRetriever(t, fetch).Filters(context.Background(), tt.names); !errors.Is(err, ErrNoFilters) {
				t.Errorf("Filters() error = %v, want ErrNoFilters", err)
			}
		})
	}
}
