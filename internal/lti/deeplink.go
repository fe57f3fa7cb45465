// internal/lti/deeplink.go
package lti

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-editor/internal/entity"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/lti/deeplinking"
)

const (
	deepLinkTitle = "Editor content"
	deepLinkText  = "Content created with the editor"

	deepLinkResponseTTL = 10 * time.Minute
)

// deepLink answers an LtiDeepLinkingRequest with a new entity. The item's
// custom id is re-checked on the next ordinary launch, so nothing is stored
// in the nonce store.
func (s *Service) deepLink(w http.ResponseWriter, r *http.Request, p Platform, c LaunchClaims) {
	if c.DLSettings == nil {
		err := &ClaimShapeError{Claim: "deep_linking_settings", Got: nil, Reason: "missing"}
		s.reject(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	customID := uuid.NewString()
	e, err := s.Entities.Create(r.Context(), entity.New{
		CustomClaimID: customID,
		Content:       entity.InitialContent,
	})
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not create content", err)
		return
	}

	jwtStr, err := s.SignDeepLinkResponse(p, c, customID)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not sign deep linking response", err)
		return
	}

	s.log().InfoContext(r.Context(), "lti deep link",
		slog.Int64("entity_id", e.ID),
		slog.String("iss", p.Issuer))
	ltikit.WriteAutoForm(w, ltikit.AutoForm{
		Action: c.DLSettings.ReturnURL,
		Fields: []ltikit.FormField{{Name: "JWT", Value: jwtStr}},
	})
}

// SignDeepLinkResponse builds the LtiDeepLinkingResponse naming one resource
// link back to the editor with custom {id: customID}.
func (s *Service) SignDeepLinkResponse(p Platform, c LaunchClaims, customID string) (string, error) {
	resp := deeplinking.Response{
		Issuer:       p.ClientID,
		Audience:     p.Issuer,
		Nonce:        uuid.NewString(),
		DeploymentID: c.DeploymentID,
		ExpiresAt:    s.now().Add(deepLinkResponseTTL).Unix(),
		Items: []deeplinking.ContentItem{{
			Type:   deeplinking.TypeResourceLink,
			Title:  deepLinkTitle,
			Text:   deepLinkText,
			URL:    s.PublicURL + LaunchPath,
			Custom: map[string]any{"id": customID},
		}},
	}
	if c.DLSettings != nil {
		resp.Data, resp.HasData = c.DLSettings.Data, c.DLSettings.HasData
	}
	return s.Keys.Sign(resp.Claims(), nil)
}
