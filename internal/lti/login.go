// internal/lti/login.go
package lti

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

// LaunchPath is where platforms post id_tokens.
const LaunchPath = "/lti/launch"

// Login handles OIDC third-party initiated login (GET or POST /lti/login):
// it remembers a fresh nonce under a one-time state and sends the browser to
// the platform's authentication endpoint.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed login request", err)
		return
	}
	iss := r.Form.Get("iss")
	loginHint := r.Form.Get("login_hint")
	target := r.Form.Get("target_link_uri")
	switch {
	case iss == "":
		s.reject(w, r, http.StatusBadRequest, "iss is missing", nil)
		return
	case loginHint == "":
		s.reject(w, r, http.StatusBadRequest, "login_hint is missing", nil)
		return
	case target == "":
		s.reject(w, r, http.StatusBadRequest, "target_link_uri is missing", nil)
		return
	}

	p, err := s.Registry.PlatformByIssuer(iss)
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown platform", err)
		return
	}
	if cid := r.Form.Get("client_id"); cid != "" && cid != p.ClientID {
		s.reject(w, r, http.StatusBadRequest, "client_id is not valid", nil)
		return
	}
	if dep := r.Form.Get("lti_deployment_id"); dep != "" && p.DeploymentID != "" && dep != p.DeploymentID {
		s.reject(w, r, http.StatusBadRequest, "lti_deployment_id is not valid", nil)
		return
	}

	n := uuid.NewString()
	state, err := nonce.PutLaunchState(r.Context(), s.Nonces, nonce.LaunchState{Nonce: n, Issuer: iss})
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not store launch state", err)
		return
	}

	dest, err := url.Parse(p.AuthEndpoint)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "platform auth endpoint", err)
		return
	}
	q := dest.Query()
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", s.PublicURL+LaunchPath)
	q.Set("login_hint", loginHint)
	if mh := r.Form.Get("lti_message_hint"); mh != "" {
		q.Set("lti_message_hint", mh)
	}
	q.Set("state", state)
	q.Set("nonce", n)
	dest.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, dest.String(), http.StatusFound)
}
