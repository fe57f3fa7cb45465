package lti_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/internal/lti"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

const registryYAML = `
platforms:
  - issuer: https://lms.example
    client_id: editor
    deployment_id: "1"
    auth_endpoint: https://lms.example/auth
    keyset_url: https://lms.example/jwks
  - issuer: https://repo.example
    client_id: editor
    auth_endpoint: https://repo.example/auth
    keyset_url: https://repo.example/jwks
    kind: repository
repository_tools:
  - issuer: https://repo.example
    client_id: ${TEST_REPO_CLIENT_ID}
    login_endpoint: https://repo.example/login
    launch_endpoint: https://repo.example/lti13
    keyset_endpoint: https://repo.example/tool-jwks
    details_endpoint: https://repo.example/details
`

func TestParseRegistry(t *testing.T) {
	t.Setenv("TEST_REPO_CLIENT_ID", "editor-embed")
	reg, err := lti.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)

	p, err := reg.PlatformByIssuer("https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, lti.KindGeneric, p.Kind, "kind defaults to generic")

	p, err = reg.PlatformByIssuer("https://repo.example")
	require.NoError(t, err)
	assert.Equal(t, lti.KindRepository, p.Kind)

	tool, err := reg.RepositoryToolByClientID("editor-embed")
	require.NoError(t, err)
	assert.Equal(t, "https://repo.example/lti13", tool.LaunchEndpoint)

	_, err = reg.RepositoryToolByIssuer("https://lms.example")
	var cfgErr *lti.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseRegistry_Invalid(t *testing.T) {
	_, err := lti.ParseRegistry([]byte("platforms:\n  - issuer: x\n    kind: weird\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
	assert.Contains(t, err.Error(), "weird")

	_, err = lti.ParseRegistry([]byte("platforms: []\nextra: 1\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestRemoteKeySets_SharesCachePerURL(t *testing.T) {
	rings, err := sharedRings()
	require.NoError(t, err)
	var hits atomic.Int32
	jwks := &ltikit.JWKSHandler{Provider: rings[1]}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		jwks.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	sets := &lti.RemoteKeySets{HTTP: srv.Client()}
	tok, err := rings[1].Sign(map[string]any{"iss": "p"}, nil)
	require.NoError(t, err)

	for range 3 {
		_, err := ltikit.VerifyWith(context.Background(), tok, sets.KeySet(srv.URL), ltikit.VerifyOptions{Issuer: "p"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hits.Load())
}
