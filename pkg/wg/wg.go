// Package wg contains the core domain types shared across the crawler.
package wg

import "time"

// Credentials is the user's wg-gesucht account record. It is handed to the
// auth and contact layers as-is and never mutated during a run.
type Credentials struct {
	Email    string
	Password string
	Phone    string
}

// Candidate is an ad discovered during traversal that has not been
// contacted yet. It only lives for one cycle; a successful contact promotes
// it to a LedgerEntry.
type Candidate struct {
	URL      string
	PostedOn time.Time
}

// LedgerEntry is one row of the contact ledger: an ad we are done with.
type LedgerEntry struct {
	AdURL     string
	Submitter string
	Title     string
}

// Template is a message template saved in the user's account.
type Template struct {
	Name string
	Text string
}

// AdInfo is the metadata extracted from a single ad page. Title and
// Submitter are already sanitized for ledger rows and snapshot filenames.
// ContactURL is empty when the page exposes no contact mechanism.
type AdInfo struct {
	Title      string
	Submitter  string
	ContactURL string
}

// MessengerForm holds the hidden fields of the messenger contact form,
// required by the conversations API.
type MessengerForm struct {
	UserID    string
	AdType    string
	AdID      string
	CSRFToken string
}

// ContactForm holds the prefilled fields of the legacy contact form.
type ContactForm struct {
	Salutation string
	FirstName  string
	LastName   string
}
