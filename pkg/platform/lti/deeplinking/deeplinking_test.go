package deeplinking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/pkg/platform/lti/deeplinking"
)

const (
	settingsClaim = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	itemsClaim    = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	dataClaim     = "https://purl.imsglobal.org/spec/lti-dl/claim/data"
)

func TestParseSettings(t *testing.T) {
	s, err := deeplinking.ParseSettings(map[string]any{
		"deep_link_return_url": "https://lms.example/return",
		"accept_types":         []any{"ltiResourceLink"},
		"accept_multiple":      true,
		"data":                 "opaque",
		"unknown":              42,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example/return", s.ReturnURL)
	assert.Equal(t, []string{"ltiResourceLink"}, s.AcceptTypes)
	assert.True(t, s.AcceptMultiple)
	assert.True(t, s.HasData)
	assert.Equal(t, "opaque", s.Data)

	s, err = deeplinking.ParseSettings(map[string]any{"deep_link_return_url": "https://lms.example/return"})
	require.NoError(t, err)
	assert.False(t, s.HasData)

	for name, raw := range map[string]any{
		"not an object":  "x",
		"no return url":  map[string]any{"data": "x"},
		"bad types list": map[string]any{"deep_link_return_url": "u", "accept_types": []any{1}},
	} {
		_, err := deeplinking.ParseSettings(raw)
		assert.Error(t, err, name)
	}
}

func TestParseContentItems(t *testing.T) {
	items, err := deeplinking.ParseContentItems([]any{
		map[string]any{"type": "ltiResourceLink", "title": "t", "custom": map[string]any{"id": "1"}},
		map[string]any{"type": "link", "url": "https://x.example"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].Custom["id"])
	assert.Equal(t, "https://x.example", items[1].URL)

	for name, raw := range map[string]any{
		"not an array":  map[string]any{},
		"not an object": []any{"x"},
		"no type":       []any{map[string]any{"title": "t"}},
		"bad custom":    []any{map[string]any{"type": "ltiResourceLink", "custom": "x"}},
	} {
		_, err := deeplinking.ParseContentItems(raw)
		assert.Error(t, err, name)
	}
}

func TestResponseClaims(t *testing.T) {
	m := deeplinking.Response{
		Issuer:       "client",
		Audience:     "https://lms.example",
		Nonce:        "n",
		DeploymentID: "d",
		ExpiresAt:    100,
		Items: []deeplinking.ContentItem{{
			Type:   deeplinking.TypeResourceLink,
			URL:    "https://editor.example/lti/launch",
			Custom: map[string]any{"id": "abc"},
		}},
		Data:    "opaque",
		HasData: true,
	}.Claims()

	assert.Equal(t, "client", m["iss"])
	assert.Equal(t, "https://lms.example", m["aud"])
	assert.Equal(t, int64(100), m["exp"])
	assert.Equal(t, "opaque", m[dataClaim])
	items := m[itemsClaim].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{
		"type":   "ltiResourceLink",
		"url":    "https://editor.example/lti/launch",
		"custom": map[string]any{"id": "abc"},
	}, items[0])

	m = deeplinking.Response{Issuer: "client"}.Claims()
	assert.NotContains(t, m, dataClaim)
	assert.NotContains(t, m, "exp")
	assert.Equal(t, []map[string]any{}, m[itemsClaim])
}

func TestRequestClaims(t *testing.T) {
	m := deeplinking.Request{
		Issuer:    "https://editor.example",
		Audience:  "repo",
		Subject:   "alice",
		ContextID: "node-1",
		Settings: deeplinking.Settings{
			ReturnURL: "https://editor.example/platform/done",
			Data:      "id",
			HasData:   true,
		},
		Extra: map[string]any{"dataToken": "dt"},
	}.Claims()

	assert.Equal(t, "dt", m["dataToken"])
	assert.Equal(t, map[string]any{"id": "node-1"}, m["https://purl.imsglobal.org/spec/lti/claim/context"])
	assert.Equal(t, []string{}, m["https://purl.imsglobal.org/spec/lti/claim/roles"])

	settings := m[settingsClaim].(map[string]any)
	assert.Equal(t, "id", settings["data"])
	assert.Equal(t, "", settings["title"])
	assert.Equal(t, []string{}, settings["accept_types"])

	// Settings survive a render and parse.
	back, err := deeplinking.ParseSettings(settings)
	require.NoError(t, err)
	assert.Equal(t, "https://editor.example/platform/done", back.ReturnURL)
	assert.Equal(t, "id", back.Data)
}
