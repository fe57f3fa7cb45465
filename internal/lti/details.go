// internal/lti/details.go
package lti

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mind-engage/mindengage-editor/internal/auth/middleware"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

const (
	DetailsPath = "/lti/get-embed-html"

	maxDetailsBody = 4 << 20

	detailsFailedSnippet = "<b>The embedded repository content could not be loaded. Please contact your system administrator.</b>"
)

// detailsFailure is returned to the editor when the repository answers with
// anything but 200.
type detailsFailure struct {
	ResponseStatus    int    `json:"responseStatus"`
	ResponseText      string `json:"responseText"`
	DetailsSnippet    string `json:"detailsSnippet"`
	CharacterEncoding string `json:"characterEncoding"`
}

// EmbedDetails proxies the repository's rendering of an embedded asset
// (GET /lti/get-embed-html?repositoryId=&nodeId=, ltik required). The request
// to the repository carries a short-lived details token signed by the editor.
func (s *Service) EmbedDetails(w http.ResponseWriter, r *http.Request) {
	k, ok := middleware.LaunchKeyFromContext(r.Context())
	if !ok {
		s.reject(w, r, http.StatusUnauthorized, "missing ltik", nil)
		return
	}
	tool, err := s.Registry.RepositoryToolByIssuer(k.PlatformIssuer)
	if err != nil {
		s.reject(w, r, statusFor(err), "unknown repository", err)
		return
	}

	dataToken, _ := k.Custom["dataToken"].(string)
	if dataToken == "" {
		writeJSON(w, http.StatusOK, map[string]string{
			"detailsSnippet": fmt.Sprintf("<b>The LTI claim %s was invalid during request to endpoint %s</b>", ltikit.ClaimCustom, r.URL.Path),
		})
		return
	}

	q := r.URL.Query()
	repositoryID, nodeID := q.Get("repositoryId"), q.Get("nodeId")
	if repositoryID == "" || nodeID == "" {
		s.reject(w, r, http.StatusBadRequest, "repositoryId and nodeId are required", nil)
		return
	}

	token, err := s.SignDetailsToken(tool, dataToken)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "could not sign details token", err)
		return
	}

	target, err := detailsURL(tool.DetailsEndpoint, repositoryID, nodeID, token)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "repository details endpoint", err)
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "details request", err)
		return
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		s.reject(w, r, http.StatusBadGateway, "repository unreachable", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailsBody))
	if err != nil {
		s.reject(w, r, http.StatusBadGateway, "repository response", err)
		return
	}

	if resp.StatusCode != http.StatusOK {
		s.log().WarnContext(r.Context(), "repository details failed",
			slog.Int("status", resp.StatusCode),
			slog.String("node_id", nodeID))
		writeJSON(w, http.StatusOK, detailsFailure{
			ResponseStatus:    resp.StatusCode,
			ResponseText:      string(body),
			DetailsSnippet:    detailsFailedSnippet,
			CharacterEncoding: resp.Header.Get("Content-Type"),
		})
		return
	}
	if !json.Valid(body) {
		s.reject(w, r, http.StatusBadGateway, "repository returned invalid JSON", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// SignDetailsToken signs the token the repository expects on its details
// endpoint: same identity and claim shape as the embed deep-linking request.
func (s *Service) SignDetailsToken(tool RepositoryTool, dataToken string) (string, error) {
	return s.Keys.Sign(map[string]any{
		"iss":                  s.PublicURL,
		"aud":                  tool.ClientID,
		"exp":                  s.now().Add(s.detailsTTL()).Unix(),
		"dataToken":            dataToken,
		ltikit.ClaimDeployment: s.embedDeploymentID(),
		ltikit.ClaimContext:    map[string]any{"id": tool.ClientID},
	}, nil)
}

// detailsURL is <endpoint>/<repositoryId>/<nodeId>?displayMode=inline&jwt=<token>.
func detailsURL(endpoint, repositoryID, nodeID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/" + url.PathEscape(repositoryID) + "/" + url.PathEscape(nodeID))
	if err != nil {
		return "", err
	}
	v := u.Query()
	v.Set("displayMode", "inline")
	v.Set("jwt", token)
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
