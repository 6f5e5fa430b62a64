// Package snapshot stores a raw copy of each contacted ad page so it can
// still be read after the listing disappears from the site. Snapshots go
// to a local directory by default, or to a GCS bucket when one is
// configured.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// maxFileNameLength leaves headroom under the common 255-byte filesystem
// limit; the ad title gets truncated to fit.
const maxFileNameLength = 245

// FileName composes the snapshot name from the sanitized submitter name,
// ad title, and ad URL. When the combination would exceed the filename
// limit, the title is cut down with an ellipsis. A name can still come out
// too long when submitter and URL alone exceed the limit; the write then
// fails and the caller logs and moves on.
func FileName(submitter, title, cleanURL string) string {
	maxTitle := maxFileNameLength - len(submitter) - len(cleanURL) - 2
	if len(title) > maxTitle && maxTitle > 4 {
		title = title[:maxTitle-3] + "..."
	}
	return fmt.Sprintf("%s-%s-%s", submitter, title, cleanURL)
}

// Store writes ad snapshots. Exactly one of localPath or bucket is in use.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// NewLocal creates a store writing into a directory on disk.
func NewLocal(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{localPath: dir, logger: logger}, nil
}

// NewBucket creates a store writing objects into a GCS bucket.
func NewBucket(client *storage.Client, bucket string, logger *slog.Logger) *Store {
	return &Store{client: client, bucket: bucket, logger: logger}
}

// Save persists one snapshot. Failures here are for the caller to log and
// swallow: a missing snapshot must never undo a successful contact.
func (s *Store) Save(ctx context.Context, name string, body []byte) error {
	if s.localPath != "" {
		path := filepath.Join(s.localPath, name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		s.logger.Debug("Snapshot saved", "path", path, "bytes", len(body))
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
			if _, writeErr := w.Write(body); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to bucket: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close bucket writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(5*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot upload after error", "attempt", n, "object", name, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save snapshot after retries: %w", err)
	}

	s.logger.Debug("Snapshot uploaded", "bucket", s.bucket, "object", name, "bytes", len(body))
	return nil
}
