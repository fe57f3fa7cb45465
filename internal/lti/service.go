// internal/lti/service.go
package lti

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/entity"
	"github.com/mind-engage/mindengage-editor/internal/rbac"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

// Service runs the editor's LTI handshakes: the outer launch and deep-linking
// flows where the editor is the tool, and the embed flow where it acts as a
// platform toward a content repository. Every dependency is injected; the
// service holds no state between requests beyond what Nonces stores.
type Service struct {
	// PublicURL is the editor's own origin without a trailing slash. It is
	// the issuer of tokens the editor signs as a platform.
	PublicURL string

	Registry Registry
	KeySets  KeySets
	Keys     *ltikit.KeyRing
	Nonces   nonce.Store
	Entities entity.Store

	AccessTokens *auth.Codec
	LaunchKeys   *auth.LaunchKeyCodec
	Policy       rbac.Policy

	TestingSecret     string
	EmbedDeploymentID string
	DetailsTokenTTL   time.Duration

	// HTTP fetches repository details.
	HTTP *http.Client
	Log  *slog.Logger
	Now  func() time.Time
}

func (s *Service) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (s *Service) policy() rbac.Policy {
	if len(s.Policy.Markers) == 0 {
		return rbac.DefaultPolicy
	}
	return s.Policy
}

func (s *Service) embedDeploymentID() string {
	if s.EmbedDeploymentID == "" {
		return "2"
	}
	return s.EmbedDeploymentID
}

func (s *Service) detailsTTL() time.Duration {
	if s.DetailsTokenTTL <= 0 {
		return 60 * time.Second
	}
	return s.DetailsTokenTTL
}
