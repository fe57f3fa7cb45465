package lti_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/lti"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

func (h *harness) repoLaunchKey(t *testing.T, custom map[string]any) string {
	t.Helper()
	k, err := h.ltiks.Issue(auth.LaunchKey{PlatformIssuer: repoIssuer, ClientID: "editor-at-repo", DeploymentID: "1", Custom: custom})
	require.NoError(t, err)
	return k
}

func repoCustom() map[string]any {
	return map[string]any{"dataToken": "dt-1", "nodeId": "node-1", "user": "alice"}
}

// startEmbed runs /lti/start-embed and returns the login_hint it issued.
func (h *harness) startEmbed(t *testing.T) string {
	t.Helper()
	rec := h.get("/lti/start-embed?ltik=" + h.repoLaunchKey(t, repoCustom()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return formFields(t, rec.Body.String()).Get("login_hint")
}

func platformLoginQuery(hint string) url.Values {
	return url.Values{
		"login_hint":   {hint},
		"nonce":        {"repo-nonce"},
		"state":        {"repo-state"},
		"redirect_uri": {repoLaunchEndpoint},
		"client_id":    {repoClientID},
	}
}

func TestStartEmbed_IssuesThirdPartyLogin(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/lti/start-embed?ltik=" + h.repoLaunchKey(t, repoCustom()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, `method="get"`)
	assert.Contains(t, body, `action="`+repoLoginEndpoint+`"`)
	f := formFields(t, body)
	assert.Equal(t, publicURL, f.Get("iss"))
	assert.Equal(t, repoLaunchEndpoint, f.Get("target_link_uri"))
	assert.Equal(t, repoClientID, f.Get("client_id"))
	assert.Equal(t, "2", f.Get("lti_deployment_id"))

	sess, err := nonce.TakeEmbedSession(ctx(), h.nonces, f.Get("login_hint"))
	require.NoError(t, err)
	assert.Equal(t, nonce.EmbedSession{User: "alice", DataToken: "dt-1", NodeID: "node-1", Issuer: repoIssuer}, sess)
}

func TestStartEmbed_Rejections(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/lti/start-embed")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.get("/lti/start-embed?ltik=" + h.repoLaunchKey(t, map[string]any{"id": "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dataToken, nodeId or user was missing in custom")
	assert.Zero(t, h.nonces.Len())
}

func TestPlatformLogin_SignsDeepLinkingRequest(t *testing.T) {
	h := newHarness(t)
	hint := h.startEmbed(t)

	rec := h.get("/platform/login?" + platformLoginQuery(hint).Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `action="`+repoLaunchEndpoint+`"`)
	f := formFields(t, rec.Body.String())
	assert.Equal(t, "repo-state", f.Get("state"))

	claims, err := h.editor.Verify(ctx(), f.Get("id_token"), ltikit.VerifyOptions{
		Issuer: publicURL, Audience: repoClientID, Subject: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, ltikit.MsgDeepLinkRequest, claims[ltikit.ClaimMessageType])
	assert.Equal(t, "repo-nonce", claims["nonce"])
	assert.Equal(t, "dt-1", claims["dataToken"])
	assert.Equal(t, "2", claims[ltikit.ClaimDeployment])
	assert.Equal(t, map[string]any{"id": "node-1"}, claims[ltikit.ClaimContext])

	settings, ok := claims[ltikit.ClaimDLSettings].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, publicURL+"/platform/done", settings["deep_link_return_url"])
	data, _ := settings["data"].(string)
	stored, err := nonce.TakeDeepLinkNonce(ctx(), h.nonces, data)
	require.NoError(t, err)
	assert.Equal(t, "repo-nonce", stored.Nonce)

	// the login_hint was consumed
	rec = h.get("/platform/login?" + platformLoginQuery(hint).Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "could not find embed session", strings.TrimSpace(rec.Body.String()))
}

func TestPlatformLogin_RejectsEachMismatchedParameter(t *testing.T) {
	cases := []struct {
		param, value, reason string
	}{
		{"redirect_uri", "https://evil.example/lti13", "redirect_uri is not valid"},
		{"client_id", "not-the-editor", "client_id is not valid"},
		{"state", "", "state is not valid"},
		{"nonce", "", "nonce is not valid"},
		{"login_hint", "not-a-uuid", "login_hint is not valid"},
	}
	for _, tc := range cases {
		t.Run(tc.param, func(t *testing.T) {
			h := newHarness(t)
			q := platformLoginQuery(h.startEmbed(t))
			q.Set(tc.param, tc.value)

			rec := h.get("/platform/login?" + q.Encode())
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.reason, strings.TrimSpace(rec.Body.String()))
			assert.NotContains(t, rec.Body.String(), "id_token")
		})
	}
}

func TestPlatformLogin_WrongRecordKind(t *testing.T) {
	h := newHarness(t)
	id, err := nonce.PutDeepLinkNonce(ctx(), h.nonces, nonce.DeepLinkNonce{Nonce: "n"})
	require.NoError(t, err)

	rec := h.get("/platform/login?" + platformLoginQuery(id).Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "login_hint is invalid or session is expired", strings.TrimSpace(rec.Body.String()))
}

// embedToDone runs the embed flow up to the repository's deep-linking
// response and returns the data value and nonce the repository must echo.
func (h *harness) embedToDone(t *testing.T) (data, n string) {
	t.Helper()
	rec := h.get("/platform/login?" + platformLoginQuery(h.startEmbed(t)).Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claims, err := ltikit.UnverifiedClaims(formFields(t, rec.Body.String()).Get("id_token"))
	require.NoError(t, err)
	settings := claims[ltikit.ClaimDLSettings].(map[string]any)
	return settings["data"].(string), claims["nonce"].(string)
}

func (h *harness) repoResponse(t *testing.T, data, n string, items any) string {
	t.Helper()
	claims := map[string]any{
		"iss":                   repoClientID,
		"aud":                   publicURL,
		"nonce":                 n,
		"exp":                   time.Now().Add(time.Minute).Unix(),
		ltikit.ClaimMessageType: ltikit.MsgDeepLinkResponse,
		ltikit.ClaimVersion:     ltikit.Version13,
		ltikit.ClaimDeployment:  "2",
	}
	if data != "" {
		claims[ltikit.ClaimDLData] = data
	}
	if items != nil {
		claims[ltikit.ClaimDLContentItems] = items
	}
	tok, err := h.repo.Sign(claims, nil)
	require.NoError(t, err)
	return tok
}

func selection(repositoryID, nodeID string) []any {
	return []any{map[string]any{
		"type":   "ltiResourceLink",
		"title":  "picture.png",
		"custom": map[string]any{"repositoryId": repositoryID, "nodeId": nodeID},
	}}
}

func TestPlatformDone_DeliversSelection(t *testing.T) {
	h := newHarness(t)
	data, n := h.embedToDone(t)

	rec := h.postForm("/platform/done", url.Values{"JWT": {h.repoResponse(t, data, n, selection("repo-a", "node-9"))}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, "parent.postMessage(")
	assert.Contains(t, body, `"repositoryId":"repo-a"`)
	assert.Contains(t, body, `"nodeId":"node-9"`)
	assert.Contains(t, body, "editor.example", "posted to the editor origin")
	assert.Zero(t, h.nonces.Len())

	// replaying the same response finds nothing
	rec = h.postForm("/platform/done", url.Values{"JWT": {h.repoResponse(t, data, n, selection("repo-a", "node-9"))}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No entry found for deep link data", strings.TrimSpace(rec.Body.String()))
}

func TestPlatformDone_Rejections(t *testing.T) {
	t.Run("content type", func(t *testing.T) {
		h := newHarness(t)
		req := httptest.NewRequest(http.MethodPost, "/platform/done", strings.NewReader(`{"JWT":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := h.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, `"content-type" is not "application/x-www-form-urlencoded"`, strings.TrimSpace(rec.Body.String()))
	})
	t.Run("missing JWT", func(t *testing.T) {
		h := newHarness(t)
		rec := h.postForm("/platform/done", url.Values{"jwt": {"lowercase"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "JWT token is missing in the request", strings.TrimSpace(rec.Body.String()))
	})
	t.Run("nonce mismatch", func(t *testing.T) {
		h := newHarness(t)
		data, _ := h.embedToDone(t)
		rec := h.postForm("/platform/done", url.Values{"JWT": {h.repoResponse(t, data, "forged-nonce", selection("r", "n"))}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "nonce is invalid", strings.TrimSpace(rec.Body.String()))
		assert.Zero(t, h.nonces.Len(), "the deep link record is consumed anyway")
	})
	t.Run("missing data", func(t *testing.T) {
		h := newHarness(t)
		_, n := h.embedToDone(t)
		rec := h.postForm("/platform/done", url.Values{"JWT": {h.repoResponse(t, "", n, selection("r", "n"))}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "data claim in JWT is missing", strings.TrimSpace(rec.Body.String()))
	})
	t.Run("malformed selection", func(t *testing.T) {
		h := newHarness(t)
		data, n := h.embedToDone(t)
		rec := h.postForm("/platform/done", url.Values{"JWT": {h.repoResponse(t, data, n, []any{map[string]any{"type": "ltiResourceLink"}})}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "malformed custom claim in JWT", strings.TrimSpace(rec.Body.String()))
	})
	t.Run("signed by another key", func(t *testing.T) {
		h := newHarness(t)
		data, n := h.embedToDone(t)
		tok, err := h.lms.Sign(map[string]any{
			"iss": repoClientID, "aud": publicURL, "nonce": n, ltikit.ClaimDLData: data,
		}, nil)
		require.NoError(t, err)
		rec := h.postForm("/platform/done", url.Values{"JWT": {tok}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "JWT is not valid")
		assert.Equal(t, 1, h.nonces.Len(), "an unverified response consumes nothing")
	})
}

func TestEmbedDetails_ProxiesRepository(t *testing.T) {
	h := newHarness(t)

	var gotPath string
	var gotJWT string
	repo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotJWT = r.URL.Query().Get("jwt")
		if r.URL.Query().Get("displayMode") != "inline" {
			http.Error(w, "bad display mode", http.StatusBadRequest)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.Error(w, "no such node", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detailsSnippet":"<img src=x>"}`))
	}))
	t.Cleanup(repo.Close)
	h.registry.RepositoryTools[0].DetailsEndpoint = repo.URL + "/details/"

	ltik := h.repoLaunchKey(t, repoCustom())
	req := httptest.NewRequest(http.MethodGet, lti.DetailsPath+"?repositoryId=repo-a&nodeId=node-9", nil)
	req.Header.Set("Authorization", "Bearer "+ltik)
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"detailsSnippet":"<img src=x>"}`, rec.Body.String())
	assert.Equal(t, "/details/repo-a/node-9", gotPath)

	claims, err := h.editor.Verify(ctx(), gotJWT, ltikit.VerifyOptions{Audience: repoClientID})
	require.NoError(t, err)
	assert.Equal(t, "dt-1", claims["dataToken"])
	assert.Equal(t, map[string]any{"id": repoClientID}, claims[ltikit.ClaimContext])
	exp, _ := claims["exp"].(float64)
	assert.InDelta(t, time.Now().Add(time.Minute).Unix(), int64(exp), 5)

	req = httptest.NewRequest(http.MethodGet, lti.DetailsPath+"?repositoryId=repo-a&nodeId=missing&ltik="+ltik, nil)
	rec = h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var failure map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	assert.EqualValues(t, http.StatusNotFound, failure["responseStatus"])
	assert.Contains(t, failure["responseText"], "no such node")
	assert.NotEmpty(t, failure["detailsSnippet"])
}

func TestEmbedDetails_InvalidCustomClaim(t *testing.T) {
	h := newHarness(t)
	rec := h.get(lti.DetailsPath + "?repositoryId=a&nodeId=b&ltik=" + h.repoLaunchKey(t, map[string]any{"id": "x"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://purl.imsglobal.org/spec/lti/claim/custom was invalid")
}

func TestPlatformEndpoints_KeysAndDiscovery(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/platform/keys")
	require.Equal(t, http.StatusOK, rec.Code)
	var set ltikit.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, h.editor.KID(), set.Keys[0]["kid"])

	rec = h.get("/platform/.well-known/openid-configuration")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, publicURL, doc["issuer"])
	assert.Equal(t, publicURL+lti.PlatformLoginPath, doc["authorization_endpoint"])
	assert.Equal(t, publicURL+lti.PlatformKeysPath, doc["jwks_uri"])
}
