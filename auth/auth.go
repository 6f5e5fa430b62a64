// Package auth establishes the authenticated site session.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wg-finder/fetcher"
	"wg-finder/pkg/wg"
)

const loginPath = "/ajax/api/Smp/api.php?action=login"

// ErrBadCredentials means the site rejected the email/password pair.
var ErrBadCredentials = errors.New("site rejected the given email and password")

// loginPayload is the body of the login call. The auto-login flag keeps
// the session cookie alive between requests.
type loginPayload struct {
	Email     string `json:"login_email_username"`
	Password  string `json:"login_password"`
	AutoLogin string `json:"login_form_auto_login"`
	Language  string `json:"display_language"`
}

// SignIn issues the one login request of a run. The session cookies land
// in the fetcher's jar; every later request carries them. The site answers
// a strict JSON true on success, anything else means bad credentials.
func SignIn(ctx context.Context, f *fetcher.Fetcher, creds wg.Credentials, logger *slog.Logger) error {
	logger.Info("Signing into wg-gesucht...")

	payload, err := json.Marshal(loginPayload{
		Email:     creds.Email,
		Password:  creds.Password,
		AutoLogin: "1",
		Language:  "de",
	})
	if err != nil {
		return fmt.Errorf("marshal login payload: %w", err)
	}

	body, err := f.PostJSON(ctx, f.BaseURL()+loginPath, "", payload)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	if strings.TrimSpace(string(body)) != "true" {
		return ErrBadCredentials
	}

	logger.Info("Logged in successfully")
	return nil
}
