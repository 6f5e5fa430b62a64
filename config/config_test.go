package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setRequired sets the minimum environment a Load call needs, clearing all
// the optional knobs so defaults are actually exercised.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WG_EMAIL", "me@example.test")
	t.Setenv("WG_PASSWORD", "secret")
	for _, key := range []string{
		"WG_PHONE", "WG_TEMPLATE", "WG_FILTERS", "WG_DATA_DIR",
		"STORAGE_BUCKET", "GOOGLE_CREDENTIALS_JSON", "WG_BASE_URL", "DRY_RUN",
		"MIN_REQUEST_DELAY", "MAX_REQUEST_DELAY", "MIN_CYCLE_PAUSE", "MAX_CYCLE_PAUSE",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Email != "me@example.test" || cfg.Password != "secret" {
		t.Errorf("credentials = %q / %q", cfg.Email, cfg.Password)
	}
	if cfg.BaseURL != "https://www.wg-gesucht.de" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir() error: %v", err)
	}
	if want := filepath.Join(home, "WG Finder"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
	if cfg.MinRequestDelay != 5*time.Second || cfg.MaxRequestDelay != 8*time.Second {
		t.Errorf("request delay window = %s..%s", cfg.MinRequestDelay, cfg.MaxRequestDelay)
	}
	if cfg.MinCyclePause != 4*time.Minute || cfg.MaxCyclePause != 5*time.Minute {
		t.Errorf("cycle pause window = %s..%s", cfg.MinCyclePause, cfg.MaxCyclePause)
	}
	if cfg.DryRun {
		t.Error("DryRun should default to false")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WG_PHONE", "+49123")
	t.Setenv("WG_TEMPLATE", "Standard")
	t.Setenv("WG_FILTERS", "Berlin Mitte,Berlin Kreuzberg")
	t.Setenv("WG_DATA_DIR", "/tmp/finder")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MIN_REQUEST_DELAY", "1s")
	t.Setenv("MAX_REQUEST_DELAY", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Phone != "+49123" || cfg.TemplateName != "Standard" {
		t.Errorf("phone/template = %q / %q", cfg.Phone, cfg.TemplateName)
	}
	if len(cfg.FilterNames) != 2 || cfg.FilterNames[1] != "Berlin Kreuzberg" {
		t.Errorf("FilterNames = %v", cfg.FilterNames)
	}
	if cfg.DataDir != "/tmp/finder" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if !cfg.DryRun {
		t.Error("DryRun should be true")
	}
	if cfg.MinRequestDelay != time.Second || cfg.MaxRequestDelay != 2*time.Second {
		t.Errorf("request delay window = %s..%s", cfg.MinRequestDelay, cfg.MaxRequestDelay)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	for _, key := range []string{"WG_EMAIL", "WG_PASSWORD"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			unset(t, key)
			if _, err := Load(); err == nil {
				t.Errorf("Load() without %s should fail", key)
			}
		})
	}
}

func TestLoadRejectsBadWindows(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero request delay", "MIN_REQUEST_DELAY", "0s"},
		{"inverted request window", "MAX_REQUEST_DELAY", "1s"},
		{"zero cycle pause", "MIN_CYCLE_PAUSE", "0m"},
		{"inverted cycle window", "MAX_CYCLE_PAUSE", "1m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.key, tt.val)
			}
		})
	}
}
