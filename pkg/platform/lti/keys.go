// pkg/platform/lti/keys.go
package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

/*
KeyRing for the MindEngage editor tool

The editor signs two kinds of LTI messages with one RSA key pair:

  • Deep Linking Responses sent back to a Platform (Tool role)
  • id_tokens / details tokens sent to the content repository while the
    editor plays the Platform role in the embed flow

The key pair is generated once at process start and lives as long as the
process. Counterparts fetch the public half from the key-set endpoint and
locate it by "kid", which every signed header carries.

How to wire:

    kr, err := lti.NewKeyRing(lti.KeyRingOptions{})
    r.Handle("/platform/keys", &lti.JWKSHandler{Provider: kr})

    tok, err := kr.Sign(claims, nil)
*/

const (
	// AlgRS256 is the only signature algorithm LTI 1.3 mandates.
	AlgRS256 = "RS256"

	defaultRSABits = 2048
)

// KeyRingOptions controls key generation.
type KeyRingOptions struct {
	RSAKeyBits int // default 2048
	// KID overrides the generated key id (tests).
	KID string
	// Now overrides the clock used for iat and exp checks.
	Now func() time.Time
}

// KeyRing holds the process signing identity. It is safe for concurrent use:
// after construction it is read-only.
type KeyRing struct {
	kid  string
	priv *rsa.PrivateKey
	now  func() time.Time
}

// NewKeyRing generates a fresh RSA key pair and key id.
func NewKeyRing(opts KeyRingOptions) (*KeyRing, error) {
	bits := opts.RSAKeyBits
	if bits <= 0 {
		bits = defaultRSABits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keys: rsa generate: %w", err)
	}
	return SeedKeyRing(opts.KID, priv, opts.Now)
}

// SeedKeyRing builds a KeyRing around an existing private key. An empty kid
// gets a random one.
func SeedKeyRing(kid string, priv *rsa.PrivateKey, now func() time.Time) (*KeyRing, error) {
	if priv == nil {
		return nil, errors.New("keys: nil rsa key")
	}
	if strings.TrimSpace(kid) == "" {
		kid = uuid.NewString()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &KeyRing{kid: kid, priv: priv, now: now}, nil
}

// KID returns the key id placed in every signed header.
func (kr *KeyRing) KID() string { return kr.kid }

// PublicKey returns the verification half of the signing identity.
func (kr *KeyRing) PublicKey() *rsa.PublicKey { return &kr.priv.PublicKey }

// Sign returns a compact RS256 JWS over claims. extraHeader fields are merged
// into the protected header but cannot replace alg or kid. iat is set when the
// caller did not provide one.
func (kr *KeyRing) Sign(claims map[string]any, extraHeader map[string]any) (string, error) {
	mc := make(jwt.MapClaims, len(claims)+1)
	for k, v := range claims {
		mc[k] = v
	}
	if _, ok := mc["iat"]; !ok {
		mc["iat"] = kr.now().Unix()
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	for k, v := range extraHeader {
		if k == "alg" || k == "kid" {
			continue
		}
		t.Header[k] = v
	}
	t.Header["kid"] = kr.kid
	s, err := t.SignedString(kr.priv)
	if err != nil {
		return "", fmt.Errorf("keys: sign: %w", err)
	}
	return s, nil
}

// PublicJWKS implements JWKSProvider. The set always holds exactly one key.
func (kr *KeyRing) PublicJWKS(_ context.Context) (JWKS, error) {
	return JWKS{Keys: []map[string]any{RSAPublicJWK(&kr.priv.PublicKey, kr.kid, AlgRS256)}}, nil
}

// Key implements KeySet for tokens this process signed itself.
func (kr *KeyRing) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if kid != "" && kid != kr.kid {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return &kr.priv.PublicKey, nil
}

// Verify checks a token signed by this KeyRing.
func (kr *KeyRing) Verify(ctx context.Context, token string, opts VerifyOptions) (map[string]any, error) {
	if opts.Now == nil {
		opts.Now = kr.now
	}
	return VerifyWith(ctx, token, kr, opts)
}
