// Package ledger persists the record of contacted ads. The ledger is the
// single source of truth for "have I already contacted this ad": one CSV
// row per handled ad, append-only, never rewritten.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"wg-finder/pkg/wg"
)

const fileName = "WG Ad Links.csv"

// header is the fixed first row of a fresh ledger file.
var header = []string{"Ad URL", "Name", "Ad Title"}

// Ledger is an append-only CSV contact record. It does not reject
// duplicate URLs itself; callers are expected to check Contains before
// contacting, so a URL appears at most once.
type Ledger struct {
	path   string
	logger *slog.Logger
}

// Open ensures the ledger file exists (creating directory and header row
// when missing) and returns a handle to it.
func Open(dir string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create ledger file: %w", err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
		w.Flush()
		if err := errors.Join(w.Error(), f.Close()); err != nil {
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
		logger.Info("Created new contact ledger", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("stat ledger file: %w", err)
	}

	return &Ledger{path: path, logger: logger}, nil
}

// Path returns the location of the ledger file.
func (l *Ledger) Path() string {
	return l.path
}

// Contains reports whether an ad URL already has a ledger row. A linear
// scan is fine at the sizes one account can produce.
func (l *Ledger) Contains(adURL string) (bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return false, fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("Failed to close ledger file", "error", closeErr)
		}
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read ledger: %w", err)
		}
		if len(record) > 0 && record[0] == adURL {
			return true, nil
		}
	}
}

// Append adds one row for a handled ad. Rows are never modified or
// removed; dedup happens upstream during traversal.
func (l *Ledger) Append(entry wg.LedgerEntry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{entry.AdURL, entry.Submitter, entry.Title}); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger row: %w", err)
	}
	w.Flush()
	if err := errors.Join(w.Error(), f.Close()); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}

	l.logger.Debug("Ledger row appended", "ad_url", entry.AdURL, "submitter", entry.Submitter)
	return nil
}
