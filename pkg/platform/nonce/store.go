// pkg/platform/nonce/store.go
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/*
Single-use handshake records.

Every redirect in an LTI handshake that must be correlated with the request
that comes back later leaves a Record here. The next step consumes it with
TakeOnce; a second TakeOnce of the same id observes ErrNotFound, under any
interleaving of concurrent callers. The record id doubles as a bearer value
in client-visible redirects (login_hint, deep-linking data, OIDC state) and
is therefore a random UUID.

Backends:
  - Memory: one process, mutex + lazy expiry
  - SQL:    DELETE ... RETURNING on sqlite or Postgres
  - Redis:  SET EX + GETDEL via rueidis
*/

// ErrNotFound means the record never existed, was already consumed or expired.
var ErrNotFound = errors.New("nonce: record not found")

// ErrMalformed is a consumed record of the wrong kind or shape. It wraps
// ErrNotFound so callers that do not care can treat both alike.
var ErrMalformed = fmt.Errorf("%w: unexpected payload", ErrNotFound)

// Kind tags a record with the handshake step that created it.
type Kind string

const (
	KindLaunchState  Kind = "launch_state"
	KindEmbedSession Kind = "embed_session"
	KindDeepLink     Kind = "deeplink_nonce"
)

// Record is a short-lived correlation value.
type Record struct {
	ID        string
	Kind      Kind
	Payload   map[string]string
	CreatedAt time.Time
}

// Store is the replay-prevention primitive shared by all handshakes.
type Store interface {
	// Put stores rec and returns its id. A fresh random id is assigned when
	// rec.ID is empty.
	Put(ctx context.Context, rec Record) (string, error)
	// TakeOnce atomically finds and deletes the record.
	TakeOnce(ctx context.Context, id string) (Record, error)
}

// DefaultTTL bounds how long an unconsumed record stays usable.
const DefaultTTL = 10 * time.Minute

// Expiry maps record kinds to their lifetime. Kinds without an entry use
// Default. A lifetime <= 0 disables passive expiry for that kind.
type Expiry struct {
	Default time.Duration
	Kinds   map[Kind]time.Duration
}

// UniformExpiry applies ttl to every kind.
func UniformExpiry(ttl time.Duration) Expiry {
	return Expiry{Default: ttl}
}

// TTL returns the lifetime of records of kind k.
func (e Expiry) TTL(k Kind) time.Duration {
	if ttl, ok := e.Kinds[k]; ok {
		return ttl
	}
	return e.Default
}

func (e Expiry) expired(rec Record, now time.Time) bool {
	ttl := e.TTL(rec.Kind)
	return ttl > 0 && now.Sub(rec.CreatedAt) > ttl
}

// NewID returns an unguessable record id (122 random bits).
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("nonce: id: %w", err)
	}
	return id.String(), nil
}

// prepare fills id and timestamp for a Put.
func prepare(rec Record, now time.Time) (Record, error) {
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return Record{}, err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Payload == nil {
		rec.Payload = map[string]string{}
	}
	return rec, nil
}
