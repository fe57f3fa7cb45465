// internal/lti/routes.go
package lti

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-editor/internal/auth/middleware"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

// Mount registers the handshake endpoints on r.
func (s *Service) Mount(r chi.Router) {
	// Tool role: platforms launch the editor.
	r.Route("/lti", func(lr chi.Router) {
		lr.Get("/login", s.Login)
		lr.Post("/login", s.Login)
		lr.Post("/launch", s.HandleLaunch)

		// In-editor calls, authenticated by the launch key.
		lr.Group(func(pr chi.Router) {
			pr.Use(middleware.RequireLaunchKey(s.LaunchKeys, s.log()))
			pr.Get("/start-embed", s.StartEmbed)
			pr.Get("/get-embed-html", s.EmbedDetails)
		})
	})

	// Platform role: the repository authenticates against the editor.
	keys := &ltikit.JWKSHandler{Provider: s.Keys, CacheMaxAge: 5 * time.Minute, AllowCORS: true}
	meta := &ltikit.MetadataServer{
		Issuer:            s.PublicURL,
		AuthorizationPath: PlatformLoginPath,
		JWKSPath:          PlatformKeysPath,
		AllowCORS:         true,
	}
	r.Route("/platform", func(pr chi.Router) {
		pr.Method("GET", "/keys", keys)
		pr.Method("HEAD", "/keys", keys)
		pr.Method("GET", "/.well-known/openid-configuration", meta)
		pr.Get("/login", s.PlatformLogin)
		pr.Post("/done", s.PlatformDone)
	})
}
