package lti_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/pkg/platform/lti"
)

func TestMetadataServer(t *testing.T) {
	ms := &lti.MetadataServer{
		Issuer:            "https://editor.example/",
		AuthorizationPath: "/platform/login",
		JWKSPath:          "platform/keys",
		AllowCORS:         true,
	}
	rec := httptest.NewRecorder()
	ms.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/platform/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://editor.example/platform/login", doc["authorization_endpoint"])
	assert.Equal(t, "https://editor.example/platform/keys", doc["jwks_uri"])
	assert.Equal(t, []any{"RS256"}, doc["id_token_signing_alg_values_supported"])
}

func TestMetadataServer_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	(&lti.MetadataServer{Issuer: "editor"}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
