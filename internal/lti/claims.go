// internal/lti/claims.go
package lti

import (
	"strconv"

	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/lti/deeplinking"
)

// LaunchClaims are the fields of a verified platform id_token the tool uses.
type LaunchClaims struct {
	Issuer         string
	Subject        string
	Nonce          string
	DeploymentID   string
	MessageType    string
	Version        string
	TargetLinkURI  string
	ResourceLinkID string
	Roles          []string
	Custom         any // validated per branch
	DLSettings     *deeplinking.Settings
}

// parseLaunchClaims validates the structure of the standard claims.
func parseLaunchClaims(m map[string]any) (LaunchClaims, error) {
	c := LaunchClaims{
		Issuer:        ltikit.StringClaim(m, "iss"),
		Subject:       ltikit.StringClaim(m, "sub"),
		Nonce:         ltikit.StringClaim(m, "nonce"),
		DeploymentID:  ltikit.StringClaim(m, ltikit.ClaimDeployment),
		MessageType:   ltikit.StringClaim(m, ltikit.ClaimMessageType),
		Version:       ltikit.StringClaim(m, ltikit.ClaimVersion),
		TargetLinkURI: ltikit.StringClaim(m, ltikit.ClaimTarget),
		Custom:        m[ltikit.ClaimCustom],
	}
	if c.MessageType == "" {
		return c, &ClaimShapeError{Claim: "message_type", Got: m[ltikit.ClaimMessageType]}
	}
	if c.Version != ltikit.Version13 {
		return c, &ClaimShapeError{Claim: "version", Got: m[ltikit.ClaimVersion]}
	}
	if c.DeploymentID == "" {
		return c, &ClaimShapeError{Claim: "deployment_id", Got: m[ltikit.ClaimDeployment]}
	}

	if raw, ok := m[ltikit.ClaimRoles]; ok && raw != nil {
		roles, ok := stringSlice(raw)
		if !ok {
			return c, &ClaimShapeError{Claim: "roles", Got: raw}
		}
		c.Roles = roles
	}

	if raw, ok := m[ltikit.ClaimResource]; ok {
		rl, ok := raw.(map[string]any)
		if !ok {
			return c, &ClaimShapeError{Claim: "resource_link", Got: raw}
		}
		c.ResourceLinkID, _ = rl["id"].(string)
	}

	if raw, ok := m[ltikit.ClaimDLSettings]; ok {
		s, err := parseDeepLinkSettings(raw)
		if err != nil {
			return c, err
		}
		c.DLSettings = s
	}
	return c, nil
}

func parseDeepLinkSettings(raw any) (*deeplinking.Settings, error) {
	st, err := deeplinking.ParseSettings(raw)
	if err != nil {
		return nil, &ClaimShapeError{Claim: "deep_linking_settings", Got: raw, Reason: err.Error()}
	}
	return &st, nil
}

// ----- custom claim shapes -----

// GenericCustom is the custom claim of an ordinary platform launch.
type GenericCustom struct {
	ID string
}

// RepositoryCustom is the custom claim sent by the content repository.
// PostContentAPIURL presence alone decides write access.
type RepositoryCustom struct {
	DataToken         string
	NodeID            string
	User              string
	PostContentAPIURL string
	CanPostContent    bool
}

// parseGenericCustom takes custom.id (string or number), falling back to the
// id query parameter when the claim has none.
func parseGenericCustom(raw any, queryID string) (GenericCustom, error) {
	var id string
	switch c := raw.(type) {
	case nil:
	case map[string]any:
		switch v := c["id"].(type) {
		case nil:
		case string:
			id = v
		case float64:
			id = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return GenericCustom{}, &ClaimShapeError{Claim: "custom", Got: raw, Reason: "id is not a string"}
		}
	default:
		return GenericCustom{}, &ClaimShapeError{Claim: "custom", Got: raw}
	}
	if id == "" {
		id = queryID
	}
	if id == "" {
		return GenericCustom{}, &ClaimShapeError{Claim: "custom", Got: raw, Reason: "missing id"}
	}
	return GenericCustom{ID: id}, nil
}

// parseRepositoryCustom requires dataToken, nodeId and user as strings;
// postContentApiUrl is optional but must be a string when present.
func parseRepositoryCustom(raw any) (RepositoryCustom, error) {
	c, ok := raw.(map[string]any)
	if !ok {
		return RepositoryCustom{}, &ClaimShapeError{Claim: "custom", Got: raw}
	}
	var rc RepositoryCustom
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"dataToken", &rc.DataToken},
		{"nodeId", &rc.NodeID},
		{"user", &rc.User},
	} {
		v, ok := c[f.name].(string)
		if !ok {
			return RepositoryCustom{}, &ClaimShapeError{Claim: "custom", Got: raw, Reason: "missing " + f.name}
		}
		*f.dst = v
	}
	if v, present := c["postContentApiUrl"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return RepositoryCustom{}, &ClaimShapeError{Claim: "custom", Got: raw, Reason: "postContentApiUrl is not a string"}
		}
		rc.PostContentAPIURL, rc.CanPostContent = s, true
	}
	return rc, nil
}

// repositoryCredentials is what the embed flow needs from a launch's custom
// claim: non-empty dataToken, nodeId and user.
func repositoryCredentials(raw any) (RepositoryCustom, error) {
	rc, err := parseRepositoryCustom(raw)
	if err != nil {
		return RepositoryCustom{}, err
	}
	if rc.DataToken == "" || rc.NodeID == "" || rc.User == "" {
		return RepositoryCustom{}, &ClaimShapeError{Claim: "custom", Got: raw, Reason: "empty repository credentials"}
	}
	return rc, nil
}

// ----- deep linking response (from the repository) -----

// EmbedSelection is the asset the user picked in the repository.
type EmbedSelection struct {
	RepositoryID string `json:"repositoryId"`
	NodeID       string `json:"nodeId"`
}

// parseEmbedSelection reads content_items[0].custom {repositoryId, nodeId}.
func parseEmbedSelection(m map[string]any) (EmbedSelection, error) {
	raw := m[ltikit.ClaimDLContentItems]
	items, err := deeplinking.ParseContentItems(raw)
	if err != nil {
		return EmbedSelection{}, &ClaimShapeError{Claim: "content_items", Got: raw, Reason: err.Error()}
	}
	if len(items) == 0 {
		return EmbedSelection{}, &ClaimShapeError{Claim: "content_items", Got: raw, Reason: "empty"}
	}
	repo, _ := items[0].Custom["repositoryId"].(string)
	node, _ := items[0].Custom["nodeId"].(string)
	if repo == "" || node == "" {
		return EmbedSelection{}, &ClaimShapeError{Claim: "content_items", Got: raw, Reason: "custom needs repositoryId and nodeId"}
	}
	return EmbedSelection{RepositoryID: repo, NodeID: node}, nil
}

func stringSlice(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, true
		}
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		s, ok := x.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
