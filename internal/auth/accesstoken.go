package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessRight scopes what a browser holding an access token may do with one
// content entity.
type AccessRight string

const (
	Read  AccessRight = "read"
	Write AccessRight = "write"
)

func (r AccessRight) Valid() bool { return r == Read || r == Write }

// ErrPolicyViolation is a valid token without the right for the operation.
var ErrPolicyViolation = errors.New("access right does not permit this operation")

// Permits returns ErrPolicyViolation unless r covers need. Write covers read.
func (r AccessRight) Permits(need AccessRight) error {
	if r == need || (r == Write && need == Read) {
		return nil
	}
	return fmt.Errorf("%w: %s token, %s required", ErrPolicyViolation, r, need)
}

// AccessToken is the verified content of an access token.
type AccessToken struct {
	EntityID    int64
	AccessRight AccessRight
}

var ErrInvalidAccessToken = errors.New("invalid access token")

// DefaultAccessTokenTTL matches a typical editing session.
const DefaultAccessTokenTTL = 8 * time.Hour

// accessClaims carries nothing but the entity, the right and the timestamps.
type accessClaims struct {
	EntityID    int64       `json:"entityId"`
	AccessRight AccessRight `json:"accessRight"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs {entityId, accessRight, iat, exp} with HS256.
func IssueAccessToken(right AccessRight, entityID int64, secret []byte, ttl time.Duration) (string, error) {
	return issueAccessToken(right, entityID, secret, ttl, time.Now())
}

func issueAccessToken(right AccessRight, entityID int64, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("access token: empty secret")
	}
	if !right.Valid() {
		return "", fmt.Errorf("access token: unknown right %q", right)
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	claims := &accessClaims{
		EntityID:    entityID,
		AccessRight: right,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseAccessToken verifies signature and expiry. Every failure wraps
// ErrInvalidAccessToken; callers treat the request as unauthenticated.
func ParseAccessToken(token string, secret []byte) (AccessToken, error) {
	return parseAccessToken(token, secret, nil)
}

func parseAccessToken(token string, secret []byte, now func() time.Time) (AccessToken, error) {
	if token == "" {
		return AccessToken{}, fmt.Errorf("%w: missing", ErrInvalidAccessToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	var c accessClaims
	if _, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...); err != nil {
		return AccessToken{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !c.AccessRight.Valid() {
		return AccessToken{}, fmt.Errorf("%w: access right %q", ErrInvalidAccessToken, c.AccessRight)
	}
	return AccessToken{EntityID: c.EntityID, AccessRight: c.AccessRight}, nil
}

// Codec binds the access-token functions to one secret and lifetime.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret []byte, ttl time.Duration) *Codec {
	return &Codec{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of c using now (tests).
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Codec) Issue(right AccessRight, entityID int64) (string, error) {
	return issueAccessToken(right, entityID, c.secret, c.ttl, c.now())
}

func (c *Codec) Parse(token string) (AccessToken, error) {
	return parseAccessToken(token, c.secret, c.now)
}
