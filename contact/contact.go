// Package contact applies to a single ad: it pulls the ad's metadata,
// finds the contact mechanism, submits the user's template message, and on
// success records the ad in the ledger and saves an offline snapshot.
package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"wg-finder/extract"
	"wg-finder/fetcher"
	"wg-finder/pkg/wg"
	"wg-finder/snapshot"
)

const conversationsPath = "/ajax/api/Smp/api.php?action=conversations"

// successMarker is the legacy form's success indicator, a literal phrase
// in the HTML response.
const successMarker = "erfolgreich kontaktiert"

// Outcome classifies what happened to one candidate.
type Outcome int

const (
	// OutcomeSent means the message went out; the ad is now ledgered.
	OutcomeSent Outcome = iota
	// OutcomeRecorded means no contact mechanism was found (listing
	// withdrawn, or already messaged through another channel); the ad is
	// ledgered anyway so it is never retried.
	OutcomeRecorded
	// OutcomeFailed means the submission was rejected; nothing was
	// written, the ad comes back next cycle.
	OutcomeFailed
	// OutcomeTimedOut means the submission timed out; nothing was
	// written, the ad comes back next cycle.
	OutcomeTimedOut
	// OutcomeDryRun means dry-run mode skipped the submission; nothing
	// was written.
	OutcomeDryRun
)

// String implements fmt.Stringer for log output.
func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeDryRun:
		return "dry run"
	default:
		return "unknown"
	}
}

// Fetcher is the slice of the page fetcher the engine needs.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetcher.Page, error)
	PostJSON(ctx context.Context, url, referer string, payload []byte) ([]byte, error)
	PostForm(ctx context.Context, url string, values url.Values) ([]byte, error)
	BaseURL() string
}

// Ledger records handled ads.
type Ledger interface {
	Append(entry wg.LedgerEntry) error
}

// Snapshots stores offline copies of ad pages.
type Snapshots interface {
	Save(ctx context.Context, name string, body []byte) error
}

// Engine contacts one candidate ad at a time.
type Engine struct {
	fetch  Fetcher
	site   *extract.Site
	ledger Ledger
	snaps  Snapshots
	creds  wg.Credentials
	logger *slog.Logger
	dryRun bool
}

// New creates a contact engine.
func New(fetch Fetcher, site *extract.Site, ledger Ledger, snaps Snapshots,
	creds wg.Credentials, dryRun bool, logger *slog.Logger,
) *Engine {
	return &Engine{
		fetch:  fetch,
		site:   site,
		ledger: ledger,
		snaps:  snaps,
		creds:  creds,
		logger: logger,
		dryRun: dryRun,
	}
}

// messengerPayload is the body of the conversations API call. The hidden
// form fields ride along as anti-forgery proof.
type messengerPayload struct {
	UserID    string             `json:"user_id"`
	AdType    string             `json:"ad_type"`
	AdID      string             `json:"ad_id"`
	CSRFToken string             `json:"csrf_token"`
	Messages  []messengerMessage `json:"messages"`
}

type messengerMessage struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Contact runs the full per-ad sequence. A returned error means the run
// cannot continue (challenge page, network gone); everything that only
// concerns this one ad is folded into the Outcome.
func (e *Engine) Contact(ctx context.Context, cand wg.Candidate, template string) (Outcome, error) {
	adPage, err := e.fetch.Get(ctx, cand.URL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch ad page: %w", err)
	}

	info := e.site.Ad(adPage.Doc)

	if info.ContactURL == "" {
		// Not an error: the listing was withdrawn or was already messaged
		// through another channel. Ledger it so it never comes back.
		e.logger.Info("No contact link on ad, recording it so it is not retried",
			"ad_url", cand.URL, "submitter", info.Submitter)
		if err := e.record(ctx, cand.URL, info, adPage.Body); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeRecorded, nil
	}

	formPage, err := e.fetch.Get(ctx, info.ContactURL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch contact page: %w", err)
	}

	if e.dryRun {
		e.logger.Info("DRY RUN: would send message",
			"ad_url", cand.URL, "submitter", info.Submitter, "title", info.Title)
		return OutcomeDryRun, nil
	}

	var sent bool
	if mf, ok := e.site.MessengerForm(formPage.Doc); ok {
		sent, err = e.submitMessenger(ctx, mf, info.ContactURL, template)
	} else {
		sent, err = e.submitLegacyForm(ctx, formPage, info.ContactURL, template)
	}
	if err != nil {
		if errors.Is(err, fetcher.ErrTimeout) {
			e.logger.Warn("Timed out sending a message, will try again next time",
				"submitter", info.Submitter, "ad_url", cand.URL)
			return OutcomeTimedOut, nil
		}
		e.logger.Warn("Failed to send message, will try again next time",
			"submitter", info.Submitter, "ad_url", cand.URL, "error", err)
		return OutcomeFailed, nil
	}
	if !sent {
		e.logger.Warn("Failed to send message, will try again next time",
			"submitter", info.Submitter, "ad_url", cand.URL)
		return OutcomeFailed, nil
	}

	if err := e.record(ctx, cand.URL, info, adPage.Body); err != nil {
		return OutcomeFailed, err
	}

	e.logger.Info("Message sent!", "submitter", info.Submitter, "title", info.Title)
	return OutcomeSent, nil
}

// submitMessenger uses the conversations API: a JSON POST whose success is
// a created conversation identifier in the response.
func (e *Engine) submitMessenger(ctx context.Context, mf wg.MessengerForm, contactURL, template string) (bool, error) {
	payload, err := json.Marshal(messengerPayload{
		UserID:    mf.UserID,
		AdType:    mf.AdType,
		AdID:      mf.AdID,
		CSRFToken: mf.CSRFToken,
		Messages:  []messengerMessage{{Content: template, MessageType: "text"}},
	})
	if err != nil {
		return false, fmt.Errorf("marshal messenger payload: %w", err)
	}

	body, err := e.fetch.PostJSON(ctx, e.fetch.BaseURL()+conversationsPath, contactURL, payload)
	if err != nil {
		return false, err
	}

	var reply struct {
		ConversationID any `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, fmt.Errorf("decode messenger response: %w", err)
	}
	switch id := reply.ConversationID.(type) {
	case nil:
		return false, nil
	case string:
		return id != "", nil
	default:
		return true, nil
	}
}

// submitLegacyForm posts the older urlencoded contact form back to the
// contact page. Success is a literal phrase in the HTML response.
func (e *Engine) submitLegacyForm(ctx context.Context, formPage *fetcher.Page, contactURL, template string) (bool, error) {
	cf := e.site.ContactForm(formPage.Doc)

	values := url.Values{}
	values.Set("nachricht", template)
	values.Set("u_anrede", cf.Salutation)
	values.Set("vorname", cf.FirstName)
	values.Set("nachname", cf.LastName)
	values.Set("email", e.creds.Email)
	values.Set("telefon", e.creds.Phone)
	values.Set("agb", "on")         // accept terms of service
	values.Set("kopieanmich", "on") // send a copy to self

	body, err := e.fetch.PostForm(ctx, contactURL, values)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(body), successMarker), nil
}

// record appends the ledger row and writes the offline snapshot. The
// ledger write must succeed: losing it would mean re-contacting the same
// ad forever. The snapshot is best-effort.
func (e *Engine) record(ctx context.Context, adURL string, info wg.AdInfo, body []byte) error {
	entry := wg.LedgerEntry{AdURL: adURL, Submitter: info.Submitter, Title: info.Title}
	if err := e.ledger.Append(entry); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}

	name := snapshot.FileName(info.Submitter, info.Title, e.site.CleanText(adURL))
	if err := e.snaps.Save(ctx, name, body); err != nil {
		e.logger.Error("Could not save this ad for offline viewing",
			"file", name, "error", err)
	}
	return nil
}
