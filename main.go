// Package main implements wg-finder, a bot that watches wg-gesucht.de for
// newly posted apartment ads matching the user's saved search filters and
// applies to each one with the user's saved message template. It keeps a
// CSV ledger of contacted ads and an offline copy of every ad page, and
// runs until it is killed or the site pushes back.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"wg-finder/account"
	"wg-finder/auth"
	"wg-finder/config"
	"wg-finder/contact"
	"wg-finder/extract"
	"wg-finder/fetcher"
	"wg-finder/ledger"
	"wg-finder/pkg/wg"
	"wg-finder/snapshot"
	"wg-finder/traverse"
)

const (
	ledgerDirName   = "WG Ad Links"
	snapshotDirName = "Offline Ad Links"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("Configuration error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Stopped running", "error", err)
		os.Exit(1)
	}
	logger.Warn("Stopped running")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	site, err := extract.NewSite(cfg.BaseURL)
	if err != nil {
		return err
	}

	fetch, err := fetcher.New(fetcher.Options{
		BaseURL:  cfg.BaseURL,
		MinDelay: cfg.MinRequestDelay,
		MaxDelay: cfg.MaxRequestDelay,
	}, logger)
	if err != nil {
		return err
	}

	led, err := ledger.Open(filepath.Join(cfg.DataDir, ledgerDirName), logger)
	if err != nil {
		return err
	}

	snaps, cleanup, err := newSnapshotStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	creds := wg.Credentials{Email: cfg.Email, Password: cfg.Password, Phone: cfg.Phone}

	retriever := account.New(fetch, site, logger)
	traverser := traverse.New(fetch, site, led, logger)
	contacter := contact.New(fetch, site, led, snaps, creds, cfg.DryRun, logger)

	// One sign-in per run; the session cookie carries every later request.
	if err := auth.SignIn(ctx, fetch, creds, logger); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	// The run has no terminal state: it cycles until the process is killed
	// or a fatal condition (bad credentials, CAPTCHA, network outage,
	// missing template/filters) makes further crawling pointless.
	for cycle := 1; ; cycle++ {
		if cycle == 1 {
			logger.Info("Starting...", "ledger", led.Path())
		} else {
			logger.Info("Resuming...", "cycle", cycle)
		}

		start := time.Now()
		if err := runCycle(ctx, cycle, cfg, retriever, traverser, contacter, logger); err != nil {
			return err
		}

		logger.Info("Site checked since start",
			"cycle", cycle,
			"elapsed", time.Since(start).Round(time.Second).String())

		pause := randomPause(cfg.MinCyclePause, cfg.MaxCyclePause)
		logger.Info("Pausing, will resume shortly", "pause", pause.Round(time.Second).String())
		if err := sleep(ctx, pause); err != nil {
			return nil // external signal: a clean stop, not a failure
		}
	}
}

// runCycle does one full pass: template, filters, traversal, contact.
func runCycle(ctx context.Context, cycle int, cfg *config.Config,
	retriever *account.Retriever, traverser *traverse.Engine, contacter *contact.Engine,
	logger *slog.Logger,
) error {
	template, err := retriever.Template(ctx, cfg.TemplateName)
	if err != nil {
		return fmt.Errorf("retrieve template: %w", err)
	}

	filters, err := retriever.Filters(ctx, cfg.FilterNames)
	if err != nil {
		return fmt.Errorf("retrieve filters: %w", err)
	}

	candidates, err := traverser.Run(ctx, filters)
	if err != nil {
		return err
	}

	counts := make(map[contact.Outcome]int)
	for _, cand := range candidates {
		outcome, err := contacter.Contact(ctx, cand, template)
		if err != nil {
			return err
		}
		counts[outcome]++
	}

	logger.Info("Cycle finished",
		"cycle", cycle,
		"candidates", len(candidates),
		"sent", counts[contact.OutcomeSent],
		"recorded", counts[contact.OutcomeRecorded],
		"failed", counts[contact.OutcomeFailed]+counts[contact.OutcomeTimedOut])
	return nil
}

// newSnapshotStore picks local-directory or bucket storage for offline ad
// copies. The bucket mode is for runs on a VM where local disk is not
// worth keeping.
func newSnapshotStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*snapshot.Store, func(), error) {
	if cfg.StorageBucket == "" {
		store, err := snapshot.NewLocal(filepath.Join(cfg.DataDir, snapshotDirName), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	cleanup := func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close storage client", "error", closeErr)
		}
	}
	logger.Info("Snapshots will be archived to bucket", "bucket", cfg.StorageBucket)
	return snapshot.NewBucket(client, cfg.StorageBucket, logger), cleanup, nil
}

// randomPause picks the between-cycle sleep inside the configured window.
func randomPause(minPause, maxPause time.Duration) time.Duration {
	if maxPause <= minPause {
		return minPause
	}
	return minPause + rand.N(maxPause-minPause)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
