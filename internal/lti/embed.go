// internal/lti/embed.go
package lti

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-editor/internal/auth/middleware"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/lti/deeplinking"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

const (
	PlatformLoginPath = "/platform/login"
	PlatformDonePath  = "/platform/done"
	PlatformKeysPath  = "/platform/keys"

	formContentType = "application/x-www-form-urlencoded"

	// embedRequestTTL bounds the deep-linking request sent to the repository.
	embedRequestTTL = 10 * time.Minute
)

// StartEmbed begins the embed flow from an open editor session
// (GET /lti/start-embed, ltik required). The editor starts a third-party
// login toward the repository with a one-time login_hint.
func (s *Service) StartEmbed(w http.ResponseWriter, r *http.Request) {
	k, ok := middleware.LaunchKeyFromContext(r.Context())
	if !ok {
		s.reject(w, r, http.StatusUnauthorized, "missing ltik", nil)
		return
	}
	creds, err := repositoryCredentials(k.Custom)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "dataToken, nodeId or user was missing in custom", err)
		return
	}
	tool, err := s.Registry.RepositoryToolByIssuer(k.PlatformIssuer)
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown repository", err)
		return
	}

	hint, err := nonce.PutEmbedSession(r.Context(), s.Nonces, nonce.EmbedSession{
		User:      creds.User,
		DataToken: creds.DataToken,
		NodeID:    creds.NodeID,
		Issuer:    k.PlatformIssuer,
	})
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not store embed session", err)
		return
	}

	ltikit.WriteAutoForm(w, ltikit.AutoForm{
		Method: "get",
		Action: tool.LoginEndpoint,
		Fields: []ltikit.FormField{
			{Name: "iss", Value: s.PublicURL},
			{Name: "target_link_uri", Value: tool.LaunchEndpoint},
			{Name: "login_hint", Value: hint},
			{Name: "client_id", Value: tool.ClientID},
			{Name: "lti_deployment_id", Value: s.embedDeploymentID()},
		},
	})
}

// PlatformLogin receives the repository's authentication request
// (GET /platform/login). The embed session behind login_hint is consumed
// before any other parameter is checked, so a hint works at most once.
func (s *Service) PlatformLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hint := q.Get("login_hint")
	if _, err := uuid.Parse(hint); err != nil {
		s.reject(w, r, http.StatusBadRequest, "login_hint is not valid", nil)
		return
	}

	sess, err := nonce.TakeEmbedSession(r.Context(), s.Nonces, hint)
	switch {
	case errors.Is(err, nonce.ErrMalformed):
		s.reject(w, r, http.StatusBadRequest, "login_hint is invalid or session is expired", ErrReplay)
		return
	case errors.Is(err, nonce.ErrNotFound):
		s.reject(w, r, http.StatusBadRequest, "could not find embed session", ErrReplay)
		return
	case err != nil:
		s.reject(w, r, http.StatusInternalServerError, "embed session lookup", err)
		return
	}

	tool, err := s.Registry.RepositoryToolByIssuer(sess.Issuer)
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown repository", err)
		return
	}

	n, state := q.Get("nonce"), q.Get("state")
	switch {
	case n == "":
		s.reject(w, r, http.StatusBadRequest, "nonce is not valid", nil)
		return
	case state == "":
		s.reject(w, r, http.StatusBadRequest, "state is not valid", nil)
		return
	case q.Get("redirect_uri") != tool.LaunchEndpoint:
		s.reject(w, r, http.StatusBadRequest, "redirect_uri is not valid", nil)
		return
	case q.Get("client_id") != tool.ClientID:
		s.reject(w, r, http.StatusBadRequest, "client_id is not valid", nil)
		return
	}

	dataID, err := nonce.PutDeepLinkNonce(r.Context(), s.Nonces, nonce.DeepLinkNonce{Nonce: n})
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not store deep link nonce", err)
		return
	}

	idToken, err := s.signEmbedRequest(tool, sess, n, dataID)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not sign deep linking request", err)
		return
	}

	ltikit.WriteAutoForm(w, ltikit.AutoForm{
		Action: tool.LaunchEndpoint,
		Fields: []ltikit.FormField{
			{Name: "id_token", Value: idToken},
			{Name: "state", Value: state},
		},
	})
}

// signEmbedRequest builds the LtiDeepLinkingRequest the editor sends as a
// platform. data carries the deep-link nonce record id.
func (s *Service) signEmbedRequest(tool RepositoryTool, sess nonce.EmbedSession, n, data string) (string, error) {
	req := deeplinking.Request{
		Issuer:       s.PublicURL,
		Audience:     tool.ClientID,
		Subject:      sess.User,
		Nonce:        n,
		DeploymentID: s.embedDeploymentID(),
		ExpiresAt:    s.now().Add(embedRequestTTL).Unix(),
		ContextID:    sess.NodeID,
		Settings: deeplinking.Settings{
			ReturnURL:      s.PublicURL + PlatformDonePath,
			AcceptTypes:    []string{deeplinking.TypeResourceLink},
			AcceptTargets:  []string{"iframe"},
			AcceptMultiple: true,
			Data:           data,
			HasData:        true,
		},
		Extra: map[string]any{"dataToken": sess.DataToken},
	}
	return s.Keys.Sign(req.Claims(), nil)
}

// PlatformDone receives the repository's deep-linking response
// (POST /platform/done). Every failure is a 400 with a one-line reason.
func (s *Service) PlatformDone(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != formContentType {
		s.reject(w, r, http.StatusBadRequest, `"content-type" is not "application/x-www-form-urlencoded"`, nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed form body", err)
		return
	}
	token := r.PostForm.Get("JWT")
	if token == "" {
		s.reject(w, r, http.StatusBadRequest, "JWT token is missing in the request", nil)
		return
	}

	unverified, err := ltikit.UnverifiedClaims(token)
	if err != nil {
		te := &TokenError{Token: "deep_linking_response", Err: err}
		s.reject(w, r, http.StatusBadRequest, "JWT is not valid: "+te.Reason(), te)
		return
	}
	tool, err := s.Registry.RepositoryToolByClientID(ltikit.StringClaim(unverified, "iss"))
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown repository", err)
		return
	}

	claims, err := ltikit.VerifyWith(r.Context(), token, s.KeySets.KeySet(tool.KeysetEndpoint), ltikit.VerifyOptions{
		Issuer:   tool.ClientID,
		Audience: s.PublicURL,
		Now:      s.Now,
	})
	if err != nil {
		te := &TokenError{Token: "deep_linking_response", Err: err}
		s.reject(w, r, http.StatusBadRequest, "JWT is not valid: "+te.Reason(), te)
		return
	}

	data, ok := claims[ltikit.ClaimDLData].(string)
	if !ok || data == "" {
		s.reject(w, r, http.StatusBadRequest, "data claim in JWT is missing", nil)
		return
	}
	stored, err := nonce.TakeDeepLinkNonce(r.Context(), s.Nonces, data)
	switch {
	case errors.Is(err, nonce.ErrMalformed):
		s.reject(w, r, http.StatusBadRequest, "deeplink flow session expired", ErrReplay)
		return
	case errors.Is(err, nonce.ErrNotFound):
		s.reject(w, r, http.StatusBadRequest, "No entry found for deep link data", ErrReplay)
		return
	case err != nil:
		s.reject(w, r, http.StatusInternalServerError, "deep link nonce lookup", err)
		return
	}
	if ltikit.StringClaim(claims, "nonce") != stored.Nonce {
		s.reject(w, r, http.StatusBadRequest, "nonce is invalid", ErrReplay)
		return
	}

	sel, err := parseEmbedSelection(claims)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed custom claim in JWT", err)
		return
	}

	s.log().InfoContext(r.Context(), "embed selection delivered",
		slog.String("repository_id", sel.RepositoryID),
		slog.String("node_id", sel.NodeID))
	if err := writePostMessage(w, sel, s.PublicURL); err != nil {
		s.log().ErrorContext(r.Context(), "write post message", slog.Any("error", err))
	}
}
