// pkg/platform/lti/jwks.go
package lti

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

/*
Key-set endpoint

Serves the editor's public signing key in JWKS (RFC 7517) format. The LTI
platform fetches it to verify Deep Linking Responses, and the content
repository fetches it to verify the id_tokens and details tokens the editor
signs in its platform role:

  GET /platform/keys

The same JWK helpers parse remote key sets (see remote_jwks.go).
*/

// JWKS is a JSON Web Key Set, i.e. { "keys": [ JWK, ... ] }.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// JWKSProvider loads the public key set to publish.
type JWKSProvider interface {
	// PublicJWKS returns only public material; NEVER return private fields.
	PublicJWKS(ctx context.Context) (JWKS, error)
}

// JWKSHandler serves the key-set endpoint.
type JWKSHandler struct {
	Provider JWKSProvider

	// Optional: cache control for responses (default: 10 minutes).
	CacheMaxAge time.Duration
	// Optional: adds Access-Control-Allow-Origin: *.
	AllowCORS bool
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// ServeHTTP implements http.Handler for the key-set endpoint.
//
//	r.Get("/platform/keys", jwksHandler.ServeHTTP)
func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		http.Error(w, "jwks: not configured", http.StatusInternalServerError)
		return
	}
	set, err := h.Provider.PublicJWKS(r.Context())
	if err != nil {
		http.Error(w, "jwks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if set.Keys == nil {
		set.Keys = []map[string]any{}
	}

	payload, err := json.Marshal(set)
	if err != nil {
		http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
		return
	}

	maxAge := int(h.cacheAge().Seconds())
	etag := computeETag(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", h.now().UTC().Format(http.TimeFormat))
	if h.AllowCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *JWKSHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *JWKSHandler) cacheAge() time.Duration {
	if h.CacheMaxAge > 0 {
		return h.CacheMaxAge
	}
	return 10 * time.Minute
}

func computeETag(b []byte) string {
	sum := sha256.Sum256(b)
	return `W/"` + b64url(sum[:]) + `"`
}

// ----- JWK <-> *rsa.PublicKey -----

// RSAPublicJWK builds the public JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": alg,
		"use": "sig",
		"n":   bigIntToB64(pub.N),
		"e":   bigIntToB64(big.NewInt(int64(pub.E))),
	}
}

// ParseRSAJWK turns a JWK map back into an RSA public key. Non-RSA keys and
// keys not meant for signatures are rejected.
func ParseRSAJWK(k map[string]any) (kid string, pub *rsa.PublicKey, err error) {
	kty, _ := k["kty"].(string)
	if kty != "RSA" {
		return "", nil, fmt.Errorf("jwk: unsupported kty %q", kty)
	}
	if use, ok := k["use"].(string); ok && use != "" && use != "sig" {
		return "", nil, fmt.Errorf("jwk: use %q", use)
	}
	if alg, ok := k["alg"].(string); ok && alg != "" && alg != AlgRS256 {
		return "", nil, fmt.Errorf("jwk: alg %q", alg)
	}
	kid, _ = k["kid"].(string)
	n, err := b64ToBigInt(k["n"])
	if err != nil {
		return "", nil, fmt.Errorf("jwk n: %w", err)
	}
	e, err := b64ToBigInt(k["e"])
	if err != nil {
		return "", nil, fmt.Errorf("jwk e: %w", err)
	}
	if !e.IsInt64() || e.Int64() <= 1 || e.Int64() > 1<<31-1 {
		return "", nil, errors.New("jwk: bad exponent")
	}
	return kid, &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func bigIntToB64(n *big.Int) string {
	if n == nil {
		return ""
	}
	return b64url(n.Bytes())
}

func b64ToBigInt(v any) (*big.Int, error) {
	s, _ := v.(string)
	if s == "" {
		return nil, errors.New("missing")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
