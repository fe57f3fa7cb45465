package lti_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/entity"
	"github.com/mind-engage/mindengage-editor/internal/lti"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
)

const (
	publicURL     = "https://editor.example"
	lmsIssuer     = "https://lms.example"
	lmsClientID   = "editor-at-lms"
	repoIssuer    = "https://repo.example"
	repoClientID  = "editor"
	testingSecret = "testing-secret"

	repoLaunchEndpoint = "https://repo.example/lti13"
	repoLoginEndpoint  = "https://repo.example/oidc/login"
)

// Signing keys are expensive; every test shares them read-only.
var sharedRings = sync.OnceValues(func() ([3]*ltikit.KeyRing, error) {
	var out [3]*ltikit.KeyRing
	for i, kid := range []string{"editor-key", "lms-key", "repo-key"} {
		kr, err := ltikit.NewKeyRing(ltikit.KeyRingOptions{KID: kid})
		if err != nil {
			return out, err
		}
		out[i] = kr
	}
	return out, nil
})

// keySets resolves counterpart JWKS URLs to in-process key sets.
type keySets map[string]ltikit.KeySet

func (k keySets) KeySet(url string) ltikit.KeySet { return k[url] }

type harness struct {
	svc      *lti.Service
	router   chi.Router
	editor   *ltikit.KeyRing
	lms      *ltikit.KeyRing
	repo     *ltikit.KeyRing
	entities *entity.Memory
	nonces   *nonce.Memory
	tokens   *auth.Codec
	ltiks    *auth.LaunchKeyCodec
	registry *lti.StaticRegistry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rings, err := sharedRings()
	require.NoError(t, err)

	secrets, err := auth.DeriveSecrets("0123456789abcdef-master")
	require.NoError(t, err)

	reg := &lti.StaticRegistry{
		Platforms: []lti.Platform{
			{Issuer: lmsIssuer, ClientID: lmsClientID, DeploymentID: "1", AuthEndpoint: "https://lms.example/auth?tenant=t1", KeysetURL: "https://lms.example/jwks", Kind: lti.KindGeneric},
			{Issuer: repoIssuer, ClientID: "editor-at-repo", DeploymentID: "1", AuthEndpoint: "https://repo.example/auth", KeysetURL: "https://repo.example/platform-jwks", Kind: lti.KindRepository},
		},
		RepositoryTools: []lti.RepositoryTool{{
			Issuer:          repoIssuer,
			ClientID:        repoClientID,
			LoginEndpoint:   repoLoginEndpoint,
			LaunchEndpoint:  repoLaunchEndpoint,
			KeysetEndpoint:  "https://repo.example/tool-jwks",
			DetailsEndpoint: "https://repo.example/details",
		}},
	}
	require.NoError(t, reg.Validate())

	h := &harness{
		editor:   rings[0],
		lms:      rings[1],
		repo:     rings[2],
		entities: entity.NewMemory(),
		nonces:   nonce.NewMemory(),
		tokens:   auth.NewCodec(secrets.AccessToken, time.Hour),
		ltiks:    auth.NewLaunchKeyCodec(secrets.LaunchKey, time.Hour),
		registry: reg,
	}
	h.svc = &lti.Service{
		PublicURL: publicURL,
		Registry:  reg,
		KeySets: keySets{
			"https://lms.example/jwks":           h.lms,
			"https://repo.example/platform-jwks": h.repo,
			"https://repo.example/tool-jwks":     h.repo,
		},
		Keys:          h.editor,
		Nonces:        h.nonces,
		Entities:      h.entities,
		AccessTokens:  h.tokens,
		LaunchKeys:    h.ltiks,
		TestingSecret: testingSecret,
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	r := chi.NewRouter()
	h.svc.Mount(r)
	(&entity.Handlers{Store: h.entities, Tokens: h.tokens, Log: h.svc.Log}).Mount(r)
	h.router = r
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (h *harness) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

// login runs /lti/login for iss and returns the state and nonce the editor
// sent to the platform.
func (h *harness) login(t *testing.T, iss string) (state, n string) {
	t.Helper()
	rec := h.get("/lti/login?" + url.Values{
		"iss":             {iss},
		"login_hint":      {"user-1"},
		"target_link_uri": {publicURL + "/lti/launch"},
	}.Encode())
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("state"), loc.Query().Get("nonce")
}

// idToken signs a launch message as the platform behind ring.
func idToken(t *testing.T, ring *ltikit.KeyRing, iss, aud, n, msgType string, extra map[string]any) string {
	t.Helper()
	claims := map[string]any{
		"iss":                   iss,
		"aud":                   aud,
		"sub":                   "user-1",
		"nonce":                 n,
		"exp":                   time.Now().Add(5 * time.Minute).Unix(),
		ltikit.ClaimMessageType: msgType,
		ltikit.ClaimVersion:     ltikit.Version13,
		ltikit.ClaimDeployment:  "1",
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok, err := ring.Sign(claims, nil)
	require.NoError(t, err)
	return tok
}

// launch performs login then posts the id_token built from extra.
func (h *harness) launch(t *testing.T, iss, aud string, ring *ltikit.KeyRing, extra map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	state, n := h.login(t, iss)
	tok := idToken(t, ring, iss, aud, n, ltikit.MsgResourceLink, extra)
	return h.postForm("/lti/launch", url.Values{"id_token": {tok}, "state": {state}})
}

var hiddenInput = regexp.MustCompile(`<input type="hidden" name="([^"]+)" value="([^"]*)">`)

// formFields extracts the hidden inputs of an auto-submit form.
func formFields(t *testing.T, body string) url.Values {
	t.Helper()
	out := url.Values{}
	for _, m := range hiddenInput.FindAllStringSubmatch(body, -1) {
		out.Add(m[1], htmlUnescape(m[2]))
	}
	require.NotEmpty(t, out, body)
	return out
}

func htmlUnescape(s string) string {
	return strings.NewReplacer("&amp;", "&", "&#43;", "+", "&#34;", `"`, "&#39;", "'", "&lt;", "<", "&gt;", ">").Replace(s)
}

func ctx() context.Context { return context.Background() }
