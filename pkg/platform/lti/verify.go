// pkg/platform/lti/verify.go
package lti

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnknownKey is returned by a KeySet when no key matches the kid.
	ErrUnknownKey = errors.New("keys: unknown key id")
)

// VerifyReason names the single check that failed.
type VerifyReason string

const (
	ReasonMalformed  VerifyReason = "malformed"
	ReasonSignature  VerifyReason = "signature"
	ReasonExpired    VerifyReason = "expired"
	ReasonNotYet     VerifyReason = "not_yet_valid"
	ReasonIssuer     VerifyReason = "issuer"
	ReasonAudience   VerifyReason = "audience"
	ReasonSubject    VerifyReason = "subject"
	ReasonUnknownKey VerifyReason = "unknown_key"
)

// VerifyError reports why a token was rejected.
type VerifyError struct {
	Reason VerifyReason
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return "token " + string(e.Reason)
	}
	return fmt.Sprintf("token %s: %v", e.Reason, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// VerifyOptions lists the constraints to enforce. Empty fields are not
// checked; nothing is defaulted.
type VerifyOptions struct {
	Issuer   string
	Audience string
	Subject  string
	Leeway   time.Duration
	Now      func() time.Time
}

// KeySet resolves the public key for a kid.
type KeySet interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKeySet is a fixed kid -> key map (tests, pinned keys).
type StaticKeySet map[string]*rsa.PublicKey

func (s StaticKeySet) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := s[kid]; ok {
		return k, nil
	}
	if kid == "" && len(s) == 1 {
		for _, k := range s {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// VerifyWith validates signature, exp/nbf (when present) and exactly the
// constraints given in opts. It returns the token claims.
func VerifyWith(ctx context.Context, token string, keys KeySet, opts VerifyOptions) (map[string]any, error) {
	if keys == nil {
		return nil, errors.New("keys: no key set")
	}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{AlgRS256})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Subject != "" {
		parserOpts = append(parserOpts, jwt.WithSubject(opts.Subject))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return keys.Key(ctx, kid)
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

func classify(err error) error {
	var reason VerifyReason
	switch {
	case errors.Is(err, ErrUnknownKey):
		reason = ReasonUnknownKey
	case errors.Is(err, jwt.ErrTokenMalformed):
		reason = ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = ReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		reason = ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		reason = ReasonNotYet
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		reason = ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		reason = ReasonAudience
	case errors.Is(err, jwt.ErrTokenInvalidSubject):
		reason = ReasonSubject
	default:
		reason = ReasonMalformed
	}
	return &VerifyError{Reason: reason, Err: err}
}

// UnverifiedClaims decodes the payload without checking the signature. Only
// use it to pick the key set (e.g. read "iss") before a full VerifyWith.
func UnverifiedClaims(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, &VerifyError{Reason: ReasonMalformed, Err: err}
	}
	return claims, nil
}
