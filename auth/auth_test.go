package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"wg-finder/fetcher"
	"wg-finder/pkg/wg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func creds() wg.Credentials {
	return wg.Credentials{Email: "me@example.test", Password: "secret"}
}

func TestSignInSuccess(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		if _, err := w.Write([]byte("true")); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	f, err := fetcher.New(fetcher.Options{BaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatalf("fetcher.New() error: %v", err)
	}
	if err := SignIn(context.Background(), f, creds(), testLogger()); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}

	if gotPath != "/ajax/api/Smp/api.php?action=login" {
		t.Errorf("login hit %q", gotPath)
	}
	var payload map[string]string
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	want := map[string]string{
		"login_email_username":  "me@example.test",
		"login_password":        "secret",
		"login_form_auto_login": "1",
		"display_language":      "de",
	}
	for key, wantVal := range want {
		if payload[key] != wantVal {
			t.Errorf("payload[%q] = %q, want %q", key, payload[key], wantVal)
		}
	}
}

func TestSignInRejectsAnythingButTrue(t *testing.T) {
	responses := []string{
		"false",
		`{"detail": "wrong credentials"}`,
		"",
		"True and then some",
	}
	for _, response := range responses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if _, err := w.Write([]byte(response)); err != nil {
				t.Errorf("write response: %v", err)
			}
		}))

		f, err := fetcher.New(fetcher.Options{BaseURL: srv.URL}, testLogger())
		if err != nil {
			t.Fatalf("fetcher.New() error: %v", err)
		}
		if err := SignIn(context.Background(), f, creds(), testLogger()); !errors.Is(err, ErrBadCredentials) {
			t.Errorf("SignIn() with response %q = %v, want ErrBadCredentials", response, err)
		}
		srv.Close()
	}
}

func TestSignInAcceptsPaddedTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("  true\n")); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	f, err := fetcher.New(fetcher.Options{BaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatalf("fetcher.New() error: %v", err)
	}
	if err := SignIn(context.Background(), f, creds(), testLogger()); err != nil {
		t.Errorf("SignIn() error: %v", err)
	}
}
