// internal/lti/launch.go
package lti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/entity"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

// AppPath is the editor frontend entry point.
const AppPath = "/app"

// Launch is the resolved outcome of a resource-link launch: either a
// *RepositoryLaunch or a *GenericLaunch.
type Launch interface {
	launchEntity() entity.Entity
	launchRight() auth.AccessRight
}

// RepositoryLaunch comes from a repository-kind platform. The entity is keyed
// by the repository node id and created on first launch.
type RepositoryLaunch struct {
	Platform       Platform
	Entity         entity.Entity
	Right          auth.AccessRight
	Custom         RepositoryCustom
	Created        bool
	ResourceLinkID string
	// RawCustom is carried into the launch key for the embed flow.
	RawCustom map[string]any
}

// GenericLaunch comes from an ordinary LMS. The entity must already exist.
type GenericLaunch struct {
	Platform       Platform
	Entity         entity.Entity
	Right          auth.AccessRight
	Custom         GenericCustom
	ResourceLinkID string
}

func (l *RepositoryLaunch) launchEntity() entity.Entity   { return l.Entity }
func (l *RepositoryLaunch) launchRight() auth.AccessRight { return l.Right }
func (l *GenericLaunch) launchEntity() entity.Entity      { return l.Entity }
func (l *GenericLaunch) launchRight() auth.AccessRight    { return l.Right }

// HandleLaunch receives the platform's id_token (POST /lti/launch).
func (s *Service) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed launch request", err)
		return
	}
	idToken := r.PostForm.Get("id_token")
	stateID := r.PostForm.Get("state")
	if idToken == "" {
		s.reject(w, r, http.StatusBadRequest, "id_token is missing", nil)
		return
	}
	if stateID == "" {
		s.reject(w, r, http.StatusBadRequest, "state is missing", nil)
		return
	}

	state, err := nonce.TakeLaunchState(r.Context(), s.Nonces, stateID)
	if errors.Is(err, nonce.ErrNotFound) {
		s.reject(w, r, http.StatusBadRequest, "state is invalid or expired", ErrReplay)
		return
	}
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "launch state lookup", err)
		return
	}

	p, err := s.Registry.PlatformByIssuer(state.Issuer)
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown platform", err)
		return
	}

	raw, err := ltikit.VerifyWith(r.Context(), idToken, s.KeySets.KeySet(p.KeysetURL), ltikit.VerifyOptions{
		Issuer:   p.Issuer,
		Audience: p.ClientID,
		Now:      s.Now,
	})
	if err != nil {
		te := &TokenError{Token: "id_token", Err: err}
		s.reject(w, r, statusFor(te), "id_token is not valid: "+te.Reason(), te)
		return
	}

	claims, err := parseLaunchClaims(raw)
	if err != nil {
		s.reject(w, r, statusFor(err), err.Error(), err)
		return
	}
	if claims.Nonce != state.Nonce {
		s.reject(w, r, http.StatusBadRequest, "nonce is not valid", ErrReplay)
		return
	}
	if p.DeploymentID != "" && claims.DeploymentID != p.DeploymentID {
		s.reject(w, r, http.StatusBadRequest, "deployment_id is not valid", nil)
		return
	}

	switch claims.MessageType {
	case ltikit.MsgDeepLinkRequest:
		s.deepLink(w, r, p, claims)
	case ltikit.MsgResourceLink:
		l, err := s.ResolveLaunch(r.Context(), p, claims, raw, launchQueryID(r, claims))
		if err != nil {
			s.reject(w, r, statusFor(err), reasonFor(err), err)
			return
		}
		s.enterEditor(w, r, l)
	default:
		err := &ClaimShapeError{Claim: "message_type", Got: claims.MessageType, Reason: "unsupported message type"}
		s.reject(w, r, http.StatusBadRequest, err.Error(), err)
	}
}

// ResolveLaunch picks the branch from the platform kind and resolves the
// entity and access right. It writes nothing to the response.
func (s *Service) ResolveLaunch(ctx context.Context, p Platform, c LaunchClaims, raw map[string]any, queryID string) (Launch, error) {
	if p.Kind == KindRepository {
		return s.resolveRepository(ctx, p, c, raw)
	}
	return s.resolveGeneric(ctx, p, c, queryID)
}

func (s *Service) resolveRepository(ctx context.Context, p Platform, c LaunchClaims, raw map[string]any) (*RepositoryLaunch, error) {
	custom, err := parseRepositoryCustom(c.Custom)
	if err != nil {
		return nil, err
	}
	if custom.NodeID == "" {
		return nil, &ClaimShapeError{Claim: "custom", Got: c.Custom, Reason: "empty nodeId"}
	}
	idTok, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode id_token: %w", err)
	}
	e, created, err := entity.FindOrCreateByRepositoryNodeID(ctx, s.Entities, entity.New{
		ResourceLinkID:    c.ResourceLinkID,
		RepositoryNodeID:  custom.NodeID,
		Content:           entity.InitialContent,
		IDTokenOnCreation: string(idTok),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve repository entity: %w", err)
	}
	right := auth.Read
	if custom.CanPostContent {
		right = auth.Write
	}
	rawCustom, _ := c.Custom.(map[string]any)
	return &RepositoryLaunch{
		Platform:       p,
		Entity:         e,
		Right:          right,
		Custom:         custom,
		Created:        created,
		ResourceLinkID: c.ResourceLinkID,
		RawCustom:      rawCustom,
	}, nil
}

func (s *Service) resolveGeneric(ctx context.Context, p Platform, c LaunchClaims, queryID string) (*GenericLaunch, error) {
	custom, err := parseGenericCustom(c.Custom, queryID)
	if err != nil {
		return nil, err
	}
	e, err := s.Entities.FindByCustomClaimID(ctx, custom.ID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("%w: custom id %q", ErrContentNotFound, custom.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve entity: %w", err)
	}
	if e.ResourceLinkID == "" && c.ResourceLinkID != "" {
		if _, err := s.Entities.SetResourceLinkID(ctx, e.ID, c.ResourceLinkID); err != nil {
			return nil, fmt.Errorf("record resource link: %w", err)
		}
		e.ResourceLinkID = c.ResourceLinkID
	}
	return &GenericLaunch{
		Platform:       p,
		Entity:         e,
		Right:          s.policy().AccessRight(c.Roles),
		Custom:         custom,
		ResourceLinkID: c.ResourceLinkID,
	}, nil
}

// enterEditor mints the access token and redirects into the frontend.
func (s *Service) enterEditor(w http.ResponseWriter, r *http.Request, l Launch) {
	e := l.launchEntity()
	tok, err := s.AccessTokens.Issue(l.launchRight(), e.ID)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not issue access token", err)
		return
	}
	q := url.Values{}
	q.Set("accessToken", tok)
	q.Set("testingSecret", s.TestingSecret)

	switch l := l.(type) {
	case *RepositoryLaunch:
		q.Set("resourceLinkId", l.ResourceLinkID)
		ltik, err := s.LaunchKeys.Issue(auth.LaunchKey{
			PlatformIssuer: l.Platform.Issuer,
			ClientID:       l.Platform.ClientID,
			DeploymentID:   l.Platform.DeploymentID,
			ResourceLinkID: l.ResourceLinkID,
			Custom:         l.RawCustom,
		})
		if err != nil {
			s.reject(w, r, http.StatusInternalServerError, "could not issue launch key", err)
			return
		}
		q.Set("ltik", ltik)
	case *GenericLaunch:
		q.Set("resourceLinkId", l.ResourceLinkID)
	}

	attrs := []any{
		slog.Int64("entity_id", e.ID),
		slog.String("access_right", string(l.launchRight())),
		slog.String("branch", branchName(l)),
	}
	if rl, ok := l.(*RepositoryLaunch); ok {
		attrs = append(attrs, slog.Bool("entity_created", rl.Created))
	}
	s.log().InfoContext(r.Context(), "lti launch", attrs...)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, AppPath+"?"+q.Encode(), http.StatusFound)
}

func branchName(l Launch) string {
	if _, ok := l.(*RepositoryLaunch); ok {
		return string(KindRepository)
	}
	return string(KindGeneric)
}

// launchQueryID is the id query parameter of the launch request, or of the
// target_link_uri the platform signed.
func launchQueryID(r *http.Request, c LaunchClaims) string {
	if id := r.URL.Query().Get("id"); id != "" {
		return id
	}
	if u, err := url.Parse(c.TargetLinkURI); err == nil {
		return u.Query().Get("id")
	}
	return ""
}

func reasonFor(err error) string {
	var shape *ClaimShapeError
	switch {
	case errors.As(err, &shape):
		return shape.Error()
	case errors.Is(err, ErrContentNotFound):
		return "Content not found"
	default:
		return "launch failed"
	}
}
