// internal/lti/errors.go
package lti

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

var (
	// ErrReplay is a NonceStore miss: unknown, consumed or expired record.
	ErrReplay = errors.New("session expired or already used")
	// ErrContentNotFound means a generic launch named no existing entity.
	ErrContentNotFound = errors.New("content not found")
)

// ClaimShapeError reports a trust-boundary payload with the wrong structure.
type ClaimShapeError struct {
	Claim  string // short claim name, e.g. "custom"
	Got    any
	Reason string
}

func (e *ClaimShapeError) Error() string {
	got, _ := json.Marshal(e.Got)
	if e.Reason != "" {
		return fmt.Sprintf("Unexpected type of LTI '%s' claim (%s). Got %s", e.Claim, e.Reason, got)
	}
	return fmt.Sprintf("Unexpected type of LTI '%s' claim. Got %s", e.Claim, got)
}

// TokenError wraps a KeyRing verification failure of a counterpart token.
type TokenError struct {
	Token string // "id_token", "deep_linking_response"
	Err   error
}

func (e *TokenError) Error() string { return e.Token + " rejected: " + e.Err.Error() }
func (e *TokenError) Unwrap() error { return e.Err }

// Reason is the KeyRing verification reason, or "invalid" for other failures.
func (e *TokenError) Reason() string {
	var ve *ltikit.VerifyError
	if errors.As(e.Err, &ve) {
		return string(ve.Reason)
	}
	return "invalid"
}

// ConfigurationError means no registered counterpart matches an issuer or
// client id. It is logged and surfaced as a generic server error.
type ConfigurationError struct {
	Kind string // "platform", "repository tool"
	Key  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s registered for %q", e.Kind, e.Key)
}

// reject writes a one-line plain-text reason. Configuration errors never leak
// their detail to the counterpart.
func (s *Service) reject(w http.ResponseWriter, r *http.Request, status int, reason string, err error) {
	attrs := []any{slog.String("path", r.URL.Path), slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) || status >= http.StatusInternalServerError {
		s.log().ErrorContext(r.Context(), "lti handshake failed", attrs...)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.log().WarnContext(r.Context(), "lti handshake rejected", attrs...)
	http.Error(w, reason, status)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		shape  *ClaimShapeError
		tokErr *TokenError
		cfgErr *ConfigurationError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.As(err, &shape):
		return http.StatusBadRequest
	case errors.As(err, &tokErr):
		return http.StatusUnauthorized
	case errors.Is(err, ErrReplay):
		return http.StatusBadRequest
	case errors.Is(err, ErrContentNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
