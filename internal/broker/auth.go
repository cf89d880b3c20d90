package broker

import (
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "zerodha-strategy/internal/errors"
)

// TOTPCode returns the current Kite 2FA code for secret.
func TOTPCode(secret string, at time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if secret == "" {
		return "", apperrors.NewValidationError("totp_secret", "", "totp secret not configured", apperrors.ErrConfigInvalid)
	}
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		return "", apperrors.NewValidationError("totp_secret", "<redacted>", "invalid totp secret", err)
	}
	return code, nil
}

// RequestToken accepts either a bare request token or the full redirect URL
// Kite sends after login and returns the token.
func RequestToken(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apperrors.NewValidationError("request_token", input, "request token is empty", nil)
	}
	if !strings.Contains(input, "request_token=") {
		return input, nil
	}

	raw := input
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "", apperrors.NewValidationError("request_token", input, "malformed redirect url", err)
	}
	if status := values.Get("status"); status != "" && status != "success" {
		return "", apperrors.NewValidationError("request_token", status, "login was not successful", apperrors.ErrNotAuthenticated)
	}
	token := values.Get("request_token")
	if token == "" {
		return "", apperrors.NewValidationError("request_token", input, "redirect url has no request_token", nil)
	}
	return token, nil
}
