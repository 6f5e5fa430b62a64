// Package fetcher is the single gate for all traffic to the site. It owns
// the authenticated session (cookie jar), paces every request to mimic
// human browsing, and aborts the whole run when a CAPTCHA challenge shows
// up. No other package talks to the site directly.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/corpix/uarand"
	"golang.org/x/time/rate"
)

// Sentinel errors for the failure taxonomy. ErrCaptcha is fatal for the
// whole run; the other two classify transport failures.
var (
	ErrCaptcha      = errors.New("captcha challenge detected")
	ErrTimeout      = errors.New("request timed out")
	ErrNoConnection = errors.New("no connection to site")
)

// Page is a fetched and parsed site page. Body keeps the raw bytes for the
// offline snapshots; Doc is the parsed document for extraction.
type Page struct {
	URL  string
	Body []byte
	Doc  *goquery.Document
}

// Options configures a Fetcher.
type Options struct {
	BaseURL  string
	MinDelay time.Duration // floor between two requests
	MaxDelay time.Duration // floor plus random jitter, upper bound
	Timeout  time.Duration // per-request HTTP timeout, defaults to 30s
}

// Fetcher performs paced, guarded requests against the site. It is not safe
// for concurrent use; the crawler is strictly sequential by design.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
	baseURL   string
	userAgent string
	jitter    time.Duration
}

// New creates a Fetcher with a fresh cookie jar. The User-Agent is picked
// once per run so the session looks like one consistent browser.
func New(opts Options, logger *slog.Logger) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Every(opts.MinDelay), 1),
		logger:    logger,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent: uarand.GetRandom(),
		jitter:    opts.MaxDelay - opts.MinDelay,
	}, nil
}

// BaseURL returns the site root the fetcher was configured with.
func (f *Fetcher) BaseURL() string {
	return f.baseURL
}

// pace blocks until the next request is allowed: at least MinDelay since
// the previous one, plus a random jitter. The delay is mandatory policy and
// is only cut short by context cancellation.
func (f *Fetcher) pace(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for request slot: %w", err)
	}
	if f.jitter <= 0 {
		return nil
	}
	t := time.NewTimer(rand.N(f.jitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Get fetches a page through the gate. Transient transport failures and
// non-200 responses are retried a bounded number of times; a CAPTCHA
// marker in the response is unrecoverable and surfaces as ErrCaptcha.
func (f *Fetcher) Get(ctx context.Context, pageURL string) (*Page, error) {
	var page *Page

	err := retry.Do(
		func() error {
			if err := f.pace(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			f.browserHeaders(req)

			start := time.Now()
			resp, err := f.client.Do(req)
			if err != nil {
				f.logger.Warn("Request failed", "url", pageURL, "error", err)
				return classify(err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					f.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			f.logger.Debug("Request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d for %s", resp.StatusCode, pageURL)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}

			page, err = ParsePage(pageURL, body)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			if captchaPresent(page.Doc) {
				f.logger.Error("CAPTCHA challenge detected, the site suspects automated access", "url", pageURL)
				return retry.Unrecoverable(fmt.Errorf("%w at %s", ErrCaptcha, pageURL))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// PostJSON submits a JSON payload through the gate. Submissions are never
// retried: a duplicate message is worse than a missed cycle.
func (f *Fetcher) PostJSON(ctx context.Context, postURL, referer string, payload []byte) ([]byte, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.browserHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("Origin", f.baseURL)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	return f.send(req)
}

// PostForm submits urlencoded form values through the gate, single attempt.
func (f *Fetcher) PostForm(ctx context.Context, postURL string, values url.Values) ([]byte, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL,
		strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.browserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")

	return f.send(req)
}

func (f *Fetcher) send(req *http.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("HTTP %d for %s", resp.StatusCode, req.URL)
	}
	return body, nil
}

func (f *Fetcher) browserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
	if req.Method == http.MethodGet {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
	}
}

// ParsePage builds a Page from raw bytes. Exported so tests and fakes can
// construct pages without a live server.
func ParsePage(pageURL string, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	return &Page{URL: pageURL, Body: body, Doc: doc}, nil
}

// captchaPresent reports whether the page embeds the challenge widget.
func captchaPresent(doc *goquery.Document) bool {
	return doc.Find("div.g-recaptcha").Length() > 0 ||
		doc.Find("table#captcha").Length() > 0
}

// classify maps a transport error onto the failure taxonomy.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNoConnection, err)
}
