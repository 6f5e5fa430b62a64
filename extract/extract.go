// Package extract holds every site-markup detail the crawler depends on:
// selectors, field locations, and text sanitization. When the site changes
// its HTML, this is the only package that should need touching.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wg-finder/pkg/wg"
)

// FilterLink is one saved search filter found on the account page.
type FilterLink struct {
	Name string
	URL  string
}

// ResultRow is one row of the compact-list search results table.
type ResultRow struct {
	DateText string
	URL      string
}

// illegalFileChars is the set the site's titles and names must be stripped
// of before they can be used in ledger rows and snapshot filenames.
var illegalFileChars = regexp.MustCompile(`[:/\\*?|<>&^%@#!]`)

// Site extracts fields from wg-gesucht pages. One method per field group;
// traversal and contact logic only ever sees the extracted values.
type Site struct {
	base    *url.URL
	baseRaw string
}

// NewSite creates an extractor rooted at the given site base URL.
func NewSite(baseURL string) (*Site, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	return &Site{base: base, baseRaw: strings.TrimSuffix(baseURL, "/")}, nil
}

// Resolve turns a possibly-relative href into an absolute site URL.
func (s *Site) Resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return s.base.ResolveReference(ref).String()
}

// CleanText strips the site URL prefix and filename-illegal characters,
// and trims surrounding whitespace.
func (s *Site) CleanText(text string) string {
	text = strings.ReplaceAll(text, s.baseRaw+"/", "")
	text = strings.ReplaceAll(text, s.baseRaw, "")
	text = illegalFileChars.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Templates returns the saved message templates on the account's
// message-templates page, in page order. Each panel carries the template
// name and its text.
func (s *Site) Templates(doc *goquery.Document) []wg.Template {
	var templates []wg.Template
	doc.Find("div.panel-body").Each(func(_ int, panel *goquery.Selection) {
		parts := panel.Find("div.truncate_title")
		if parts.Length() < 2 {
			return
		}
		templates = append(templates, wg.Template{
			Name: strings.TrimSpace(parts.Eq(0).Text()),
			Text: strings.TrimSpace(parts.Eq(1).Text()),
		})
	})
	return templates
}

// FilterLinks returns the saved search filters on the account's filter
// page. Filter anchors carry ids of the form filter_name_<n>.
func (s *Site) FilterLinks(doc *goquery.Document) []FilterLink {
	var links []FilterLink
	doc.Find(`[id^="filter_name_"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		links = append(links, FilterLink{
			Name: strings.TrimSpace(sel.Text()),
			URL:  s.Resolve(href),
		})
	})
	return links
}

// ListViewURL returns the link that switches a gallery-rendered results
// page to the compact list view. ok is false when the page is already in
// list view and no switch is needed.
func (s *Site) ListViewURL(doc *goquery.Document) (string, bool) {
	first := doc.Find("a[href][title]").First()
	if first.Length() == 0 {
		return "", false
	}
	if title, _ := first.Attr("title"); title != "Listenansicht" {
		return "", false
	}
	href, _ := first.Attr("href")
	return s.Resolve(href), true
}

// ResultRows returns the rows of the compact-list results table. Each
// row's date cell links to the ad itself.
func (s *Site) ResultRows(doc *goquery.Document) []ResultRow {
	var rows []ResultRow
	doc.Find("table#table-compact-list tr.listenansicht0, table#table-compact-list tr.listenansicht1").
		Each(func(_ int, tr *goquery.Selection) {
			link := tr.Find("td.ang_spalte_datum a").First()
			row := ResultRow{DateText: strings.TrimSpace(link.Text())}
			if href, ok := link.Attr("href"); ok {
				row.URL = s.Resolve(href)
			}
			rows = append(rows, row)
		})
	return rows
}

// NextPageURL returns the next-page link of a results page, if any. The
// pagination control's last anchor always points at the following page.
func (s *Site) NextPageURL(doc *goquery.Document) (string, bool) {
	anchors := doc.Find("ul.pagination a[href]")
	if anchors.Length() == 0 {
		return "", false
	}
	href, ok := anchors.Last().Attr("href")
	if !ok || href == "" {
		return "", false
	}
	return s.Resolve(href), true
}

// Ad extracts the metadata of a single ad page. ContactURL stays empty
// when the page exposes no contact button, which callers treat as "nothing
// left to do for this ad".
func (s *Site) Ad(doc *goquery.Document) wg.AdInfo {
	info := wg.AdInfo{
		Title: s.CleanText(doc.Find("title").First().Text()),
	}

	panel := doc.Find("div.rhs_contact_information div.panel-body").First()
	submitter := panel.Find("div.text-capitalise").First().Text()
	if strings.TrimSpace(submitter) == "" {
		// Older layout: the panel body holds the name directly, next to an
		// online-status block that must not leak into the name.
		clone := panel.Clone()
		clone.Find("div.text-right").Remove()
		submitter = clone.Text()
	}
	info.Submitter = s.CleanText(submitter)

	button := doc.Find("a.wgg_orange").First()
	if button.Length() == 0 {
		button = doc.Find("a.btn-orange").First()
	}
	if href, ok := button.Attr("href"); ok && strings.TrimSpace(href) != "" {
		info.ContactURL = s.Resolve(href)
	}
	return info
}

// MessengerForm extracts the hidden fields the conversations API needs
// from the messenger contact form. ok is false when the form or any of its
// required fields is missing.
func (s *Site) MessengerForm(doc *goquery.Document) (wg.MessengerForm, bool) {
	form := doc.Find("form#messenger_form").First()
	if form.Length() == 0 {
		return wg.MessengerForm{}, false
	}
	value := func(name string) string {
		v, _ := form.Find(fmt.Sprintf("[name=%q]", name)).First().Attr("value")
		return v
	}
	mf := wg.MessengerForm{
		UserID:    value("user_id"),
		AdType:    value("ad_type"),
		AdID:      value("ad_id"),
		CSRFToken: value("csrf_token"),
	}
	if mf.UserID == "" || mf.AdType == "" || mf.AdID == "" || mf.CSRFToken == "" {
		return wg.MessengerForm{}, false
	}
	return mf, true
}

// ContactForm extracts the prefilled fields of the legacy contact form:
// the first non-empty selected salutation option and the name inputs.
func (s *Site) ContactForm(doc *goquery.Document) wg.ContactForm {
	var cf wg.ContactForm
	doc.Find("option[selected]").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		if v, ok := opt.Attr("value"); ok && v != "" {
			cf.Salutation = v
			return false
		}
		return true
	})
	cf.FirstName, _ = doc.Find(`[name="vorname"]`).First().Attr("value")
	cf.LastName, _ = doc.Find(`[name="nachname"]`).First().Attr("value")
	return cf
}
