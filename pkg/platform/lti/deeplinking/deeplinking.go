// pkg/platform/lti/deeplinking/deeplinking.go

/*
Package deeplinking builds and parses LTI Deep Linking 2.0 message bodies.

The editor sits on both sides of a deep-linking exchange:

  - as a Tool it answers a platform's LtiDeepLinkingRequest with an
    LtiDeepLinkingResponse naming one new resource link
  - as a Platform (embed flow) it sends an LtiDeepLinkingRequest to the
    content repository and later parses the repository's response

Only claim maps are produced here; signing and verification belong to the
KeyRing in the parent package.
*/
package deeplinking

import (
	"errors"
	"fmt"
)

// Claim names used by deep linking messages.
const (
	claimMessageType  = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion      = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimDeployment   = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimRoles        = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimContext      = "https://purl.imsglobal.org/spec/lti/claim/context"
	claimSettings     = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	claimContentItems = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	claimData         = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	msgRequest  = "LtiDeepLinkingRequest"
	msgResponse = "LtiDeepLinkingResponse"
	version13   = "1.3.0"

	// TypeResourceLink is the only content item type the editor creates or accepts.
	TypeResourceLink = "ltiResourceLink"
)

// Settings is the deep_linking_settings claim of a request.
type Settings struct {
	ReturnURL      string
	AcceptTypes    []string
	AcceptTargets  []string
	AcceptMultiple bool
	AutoCreate     bool
	Title          string
	Text           string
	Data           string
	HasData        bool
}

// Claim renders s. Empty title and text are kept; some repositories require
// the keys to be present.
func (s Settings) Claim() map[string]any {
	m := map[string]any{
		"deep_link_return_url":                 s.ReturnURL,
		"accept_types":                         nonNil(s.AcceptTypes),
		"accept_presentation_document_targets": nonNil(s.AcceptTargets),
		"accept_multiple":                      s.AcceptMultiple,
		"auto_create":                          s.AutoCreate,
		"title":                                s.Title,
		"text":                                 s.Text,
	}
	if s.HasData {
		m["data"] = s.Data
	}
	return m
}

// ParseSettings validates the raw deep_linking_settings claim. A return URL
// is required; unknown keys are ignored.
func ParseSettings(raw any) (Settings, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Settings{}, errors.New("deep_linking_settings must be an object")
	}
	var s Settings
	s.ReturnURL, _ = m["deep_link_return_url"].(string)
	if s.ReturnURL == "" {
		return Settings{}, errors.New("missing deep_link_return_url")
	}
	var err error
	if s.AcceptTypes, err = stringList(m["accept_types"]); err != nil {
		return Settings{}, fmt.Errorf("accept_types: %w", err)
	}
	if s.AcceptTargets, err = stringList(m["accept_presentation_document_targets"]); err != nil {
		return Settings{}, fmt.Errorf("accept_presentation_document_targets: %w", err)
	}
	if d, ok := m["data"].(string); ok {
		s.Data, s.HasData = d, true
	}
	s.AcceptMultiple, _ = m["accept_multiple"].(bool)
	s.AutoCreate, _ = m["auto_create"].(bool)
	s.Title, _ = m["title"].(string)
	s.Text, _ = m["text"].(string)
	return s, nil
}

// ContentItem is one entry of content_items.
type ContentItem struct {
	Type   string
	Title  string
	Text   string
	URL    string
	Custom map[string]any
}

func (it ContentItem) claim() map[string]any {
	m := map[string]any{"type": it.Type}
	if it.Title != "" {
		m["title"] = it.Title
	}
	if it.Text != "" {
		m["text"] = it.Text
	}
	if it.URL != "" {
		m["url"] = it.URL
	}
	if it.Custom != nil {
		m["custom"] = it.Custom
	}
	return m
}

// ParseContentItems accepts the raw content_items claim. Every element must
// be an object with a type; custom, when present, must be an object.
func ParseContentItems(raw any) ([]ContentItem, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, errors.New("content_items must be an array")
	}
	out := make([]ContentItem, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("content item %d must be an object", i)
		}
		it := ContentItem{}
		it.Type, _ = obj["type"].(string)
		it.Title, _ = obj["title"].(string)
		it.Text, _ = obj["text"].(string)
		it.URL, _ = obj["url"].(string)
		if it.Type == "" {
			return nil, fmt.Errorf("content item %d has no type", i)
		}
		if c, present := obj["custom"]; present && c != nil {
			cm, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("content item %d: custom must be an object", i)
			}
			it.Custom = cm
		}
		out = append(out, it)
	}
	return out, nil
}

// Response describes an LtiDeepLinkingResponse.
type Response struct {
	Issuer       string // the tool's client id
	Audience     string // the platform issuer
	Nonce        string
	DeploymentID string
	ExpiresAt    int64
	Items        []ContentItem
	// Data echoes the request's settings data when it had any.
	Data    string
	HasData bool
}

// Claims returns the unsigned response payload.
func (r Response) Claims() map[string]any {
	items := make([]map[string]any, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, it.claim())
	}
	m := map[string]any{
		"iss":             r.Issuer,
		"aud":             r.Audience,
		"nonce":           r.Nonce,
		claimDeployment:   r.DeploymentID,
		claimMessageType:  msgResponse,
		claimVersion:      version13,
		claimContentItems: items,
	}
	if r.ExpiresAt > 0 {
		m["exp"] = r.ExpiresAt
	}
	if r.HasData {
		m[claimData] = r.Data
	}
	return m
}

// Request describes an LtiDeepLinkingRequest sent by a platform.
type Request struct {
	Issuer       string
	Audience     string // the tool's client id
	Subject      string
	Nonce        string
	DeploymentID string
	ExpiresAt    int64
	ContextID    string
	Settings     Settings
	// Extra claims merged last, e.g. a repository's dataToken.
	Extra map[string]any
}

// Claims returns the unsigned request payload. Roles are sent empty.
func (r Request) Claims() map[string]any {
	m := map[string]any{
		"iss":            r.Issuer,
		"aud":            r.Audience,
		"sub":            r.Subject,
		"nonce":          r.Nonce,
		claimDeployment:  r.DeploymentID,
		claimMessageType: msgRequest,
		claimVersion:     version13,
		claimRoles:       []string{},
		claimSettings:    r.Settings.Claim(),
	}
	if r.ExpiresAt > 0 {
		m["exp"] = r.ExpiresAt
	}
	if r.ContextID != "" {
		m[claimContext] = map[string]any{"id": r.ContextID}
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return m
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, errors.New("expected a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("expected a list of strings")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
