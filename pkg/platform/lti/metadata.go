// pkg/platform/lti/metadata.go
package lti

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

/*
OpenID Provider discovery for the editor's platform role.

A content repository registering the editor as its platform reads this
document to learn the issuer, the login initiation endpoint and the key set:

  GET /platform/.well-known/openid-configuration

The editor does not run an OAuth token endpoint; only the endpoints of the
embed flow are advertised.
*/

// MetadataServer emits discovery metadata for one issuer.
type MetadataServer struct {
	// Issuer is the absolute URL the editor signs platform tokens with.
	Issuer string

	// Endpoint paths relative to Issuer.
	AuthorizationPath string
	JWKSPath          string

	// Which ID Token algorithms the platform signs with (default: RS256).
	IDTokenAlgs []string

	ProductVersion string
	PlatformGUID   string

	// Caching and CORS
	CacheMaxAge time.Duration // default 1h
	AllowCORS   bool
}

// ServeHTTP writes the discovery document.
func (s *MetadataServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isHTTPURL(s.Issuer) || s.AuthorizationPath == "" || s.JWKSPath == "" {
		http.Error(w, "metadata: not configured", http.StatusInternalServerError)
		return
	}
	cfg := map[string]any{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                joinURL(s.Issuer, s.AuthorizationPath),
		"jwks_uri":                              joinURL(s.Issuer, s.JWKSPath),
		"response_modes_supported":              []string{"form_post"},
		"response_types_supported":              []string{"id_token"},
		"scopes_supported":                      []string{"openid"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": s.idTokenAlgs(),
		"claims_supported": []string{
			"iss", "sub", "aud", "exp", "nonce",
			ClaimMessageType, ClaimVersion, ClaimDeployment, ClaimContext, ClaimRoles, ClaimDLSettings,
		},
		"https://purl.imsglobal.org/spec/lti-platform-configuration": map[string]any{
			"product_family_code": "mindengage-editor",
			"version":             orDefault(s.ProductVersion, "1.0"),
			"guid":                s.PlatformGUID,
			"messages_supported": []map[string]any{
				{"type": MsgDeepLinkRequest},
			},
			"presentation_document_target": []string{"iframe"},
		},
	}

	payload, _ := json.Marshal(cfg)
	if s.AllowCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.cacheAge().Seconds())))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(payload)
	}
}

func (s *MetadataServer) idTokenAlgs() []string {
	out := make([]string, 0, len(s.IDTokenAlgs))
	for _, a := range s.IDTokenAlgs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []string{"RS256"}
	}
	return out
}

func (s *MetadataServer) cacheAge() time.Duration {
	if s.CacheMaxAge > 0 {
		return s.CacheMaxAge
	}
	return time.Hour
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func orDefault(sv, d string) string {
	if strings.TrimSpace(sv) != "" {
		return sv
	}
	return d
}
