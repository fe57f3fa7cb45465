package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/auth/middleware"
)

func TestRequireLaunchKey(t *testing.T) {
	codec := auth.NewLaunchKeyCodec([]byte("0123456789abcdef0123456789abcdef"), 0)
	tok, err := codec.Issue(auth.LaunchKey{PlatformIssuer: "https://repo", ClientID: "editor", DeploymentID: "1"})
	require.NoError(t, err)

	var seen auth.LaunchKey
	h := middleware.RequireLaunchKey(codec, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.LaunchKeyFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?ltik=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://repo", seen.PlatformIssuer)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?ltik="+tok, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
