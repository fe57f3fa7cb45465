package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LaunchKey ("ltik") lets the editor frontend call back into in-editor
// endpoints (embed start, embed details) with the context of the launch
// that opened it, without a server-side session.
type LaunchKey struct {
	PlatformIssuer string
	ClientID       string
	DeploymentID   string
	ResourceLinkID string
	Custom         map[string]any
}

var ErrInvalidLaunchKey = errors.New("invalid launch key")

const DefaultLaunchKeyTTL = 8 * time.Hour

const launchKeySubject = "ltik"

type launchKeyClaims struct {
	PlatformIssuer string         `json:"platformIss"`
	ClientID       string         `json:"clientId"`
	DeploymentID   string         `json:"deploymentId"`
	ResourceLinkID string         `json:"resourceLinkId,omitempty"`
	Custom         map[string]any `json:"custom,omitempty"`
	jwt.RegisteredClaims
}

// LaunchKeyCodec signs and verifies launch keys with an HS256 secret that is
// distinct from the access-token secret.
type LaunchKeyCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLaunchKeyCodec(secret []byte, ttl time.Duration) *LaunchKeyCodec {
	if ttl <= 0 {
		ttl = DefaultLaunchKeyTTL
	}
	return &LaunchKeyCodec{secret: secret, ttl: ttl, now: time.Now}
}

func (c *LaunchKeyCodec) Issue(k LaunchKey) (string, error) {
	if len(c.secret) == 0 {
		return "", errors.New("launch key: empty secret")
	}
	now := c.now()
	claims := &launchKeyClaims{
		PlatformIssuer: k.PlatformIssuer,
		ClientID:       k.ClientID,
		DeploymentID:   k.DeploymentID,
		ResourceLinkID: k.ResourceLinkID,
		Custom:         k.Custom,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   launchKeySubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *LaunchKeyCodec) Parse(token string) (LaunchKey, error) {
	if token == "" {
		return LaunchKey{}, fmt.Errorf("%w: missing", ErrInvalidLaunchKey)
	}
	var cl launchKeyClaims
	_, err := jwt.ParseWithClaims(token, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(launchKeySubject),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return LaunchKey{}, fmt.Errorf("%w: %v", ErrInvalidLaunchKey, err)
	}
	return LaunchKey{
		PlatformIssuer: cl.PlatformIssuer,
		ClientID:       cl.ClientID,
		DeploymentID:   cl.DeploymentID,
		ResourceLinkID: cl.ResourceLinkID,
		Custom:         cl.Custom,
	}, nil
}
