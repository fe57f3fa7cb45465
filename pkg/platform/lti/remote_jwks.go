// pkg/platform/lti/remote_jwks.go
package lti

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RemoteKeySet is a KeySet backed by a counterpart's JWKS URL. Parsed keys are
// cached for TTL. An unknown kid forces a refetch so key rollover on the other
// side does not need a restart, but at most once per MinRefresh; concurrent
// misses share one fetch, made without holding the cache lock.
type RemoteKeySet struct {
	URL        string
	HTTP       *http.Client
	TTL        time.Duration
	MinRefresh time.Duration
	Now        func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
	fetches     singleflight.Group
}

// NewRemoteKeySet returns a key set for url using client (nil => 10s timeout client).
func NewRemoteKeySet(url string, client *http.Client) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteKeySet{URL: url, HTTP: client}
}

func (s *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := s.now()
	s.mu.Lock()
	k, found := s.lookup(kid)
	fresh := s.keys != nil && now.Sub(s.fetchedAt) <= s.ttl()
	throttled := !s.attemptedAt.IsZero() && now.Sub(s.attemptedAt) < s.minRefresh()
	s.mu.Unlock()

	switch {
	case found && (fresh || throttled):
		return k, nil
	case throttled:
		return nil, fmt.Errorf("%w: %q at %s", ErrUnknownKey, kid, s.URL)
	}

	if _, err, _ := s.fetches.Do(s.URL, func() (any, error) { return nil, s.refresh(ctx) }); err != nil {
		return nil, err
	}
	s.mu.Lock()
	k, found = s.lookup(kid)
	s.mu.Unlock()
	if found {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %q at %s", ErrUnknownKey, kid, s.URL)
}

func (s *RemoteKeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if k, ok := s.keys[kid]; ok {
		return k, true
	}
	if kid == "" && len(s.keys) == 1 {
		for _, k := range s.keys {
			return k, true
		}
	}
	return nil, false
}

// refresh fetches the key set. Callers must not hold s.mu.
func (s *RemoteKeySet) refresh(ctx context.Context) error {
	s.mu.Lock()
	s.attemptedAt = s.now()
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch %s: status %d", s.URL, resp.StatusCode)
	}
	var set JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("jwks decode %s: %w", s.URL, err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		kid, pub, err := ParseRSAJWK(jwk)
		if err != nil {
			// skip keys we cannot use (EC, enc)
			continue
		}
		keys[kid] = pub
	}
	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *RemoteKeySet) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RemoteKeySet) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 5 * time.Minute
}

func (s *RemoteKeySet) minRefresh() time.Duration {
	if s.MinRefresh > 0 {
		return s.MinRefresh
	}
	return 30 * time.Second
}
