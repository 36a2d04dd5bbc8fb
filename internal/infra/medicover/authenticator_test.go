package medicover

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediscout/internal/domain/auth"
	"mediscout/internal/infra/logger"
)

const (
	testRedirect = "https://app.example.test/signin-oidc"
	testCSRF     = "csrf-token-123"
	testCode     = "auth-code-xyz"
)

// fakeProvider mimics the identity server's login flow.
type fakeProvider struct {
	mu            sync.Mutex
	server        *httptest.Server
	challenge     string
	authorizeArgs url.Values
	loginForm     url.Values
	tokenForm     url.Values
	omitCSRF      bool
	omitCode      bool
	tokenStatus   int
	accessToken   string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{tokenStatus: http.StatusOK, accessToken: "opaque-token"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /connect/authorize", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.authorizeArgs = r.URL.Query()
		p.challenge = r.URL.Query().Get("code_challenge")
		p.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "idsrv.session", Value: "s1", Path: "/"})
		w.Header().Set("Location", p.server.URL+"/Account/Login?ReturnUrl=%2Fconnect")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("GET /Account/Login", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("idsrv.session"); err != nil {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		field := fmt.Sprintf(`<input name="__RequestVerificationToken" type="hidden" value="%s" />`, testCSRF)
		if p.omitCSRF {
			field = ""
		}
		fmt.Fprintf(w, `<html><body><form method="post"><input name="Input.Username"/>%s</form></body></html>`, field)
	})
	mux.HandleFunc("POST /Account/Login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.loginForm = r.PostForm
		p.mu.Unlock()
		if r.PostForm.Get("__RequestVerificationToken") != testCSRF {
			http.Error(w, "bad csrf", http.StatusBadRequest)
			return
		}
		w.Header().Set("Location", "/connect/authorize/callback?client_id=web")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("GET /connect/authorize/callback", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("idsrv.session"); err != nil {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		loc := testRedirect + "?code=" + testCode + "&state=s"
		if p.omitCode {
			loc = testRedirect + "?error=access_denied"
		}
		w.Header().Set("Location", loc)
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("POST /connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.tokenForm = r.PostForm
		challenge := p.challenge
		p.mu.Unlock()
		if p.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(p.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if CodeChallenge(r.PostForm.Get("code_verifier")) != challenge || r.PostForm.Get("code") != testCode {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": p.accessToken,
			"token_type":   "Bearer",
		})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) authenticator() *Authenticator {
	return NewAuthenticator(AuthenticatorConfig{
		LoginURL:    p.server.URL,
		RedirectURL: testRedirect,
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
	}, logger.Discard())
}

var testIdentity = auth.Identity{Username: "jan", Password: "secret"}

func TestCodeChallenge_KnownVerifier(t *testing.T) {
	sum := sha256.Sum256([]byte("abc"))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, CodeChallenge("abc"))
	assert.Equal(t, "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0", CodeChallenge("abc"))
	assert.NotContains(t, CodeChallenge("abc"), "=")
}

func TestRandomState(t *testing.T) {
	s, err := randomState(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)
	assert.Regexp(t, `^[a-z0-9]{32}$`, s)
}

func TestAuthenticate_FullFlow(t *testing.T) {
	p := newFakeProvider(t)

	cred, err := p.authenticator().Authenticate(context.Background(), testIdentity)
	require.NoError(t, err)

	assert.Equal(t, "opaque-token", cred.AccessToken)
	assert.False(t, cred.ObtainedAt.IsZero())
	assert.True(t, cred.ExpiresAt.IsZero(), "opaque tokens have no known expiry")
	require.NotNil(t, cred.Jar)

	args := p.authorizeArgs
	assert.Equal(t, "web", args.Get("client_id"))
	assert.Equal(t, testRedirect, args.Get("redirect_uri"))
	assert.Equal(t, "code", args.Get("response_type"))
	assert.Equal(t, "S256", args.Get("code_challenge_method"))
	assert.Equal(t, "openid offline_access profile", args.Get("scope"))
	assert.Equal(t, "query", args.Get("response_mode"))
	assert.Len(t, args.Get("state"), 32)
	assert.NotEmpty(t, args.Get("device_id"))
	assert.NotEmpty(t, args.Get("ts"))

	assert.Equal(t, "jan", p.loginForm.Get("Input.Username"))
	assert.Equal(t, "secret", p.loginForm.Get("Input.Password"))
	assert.Equal(t, "FullLogin", p.loginForm.Get("Input.LoginType"))
	assert.Contains(t, p.loginForm.Get("Input.ReturnUrl"), "/connect/authorize/callback?")
	assert.Contains(t, p.loginForm.Get("Input.ReturnUrl"), "code_challenge=")

	assert.Equal(t, "authorization_code", p.tokenForm.Get("grant_type"))
	assert.Equal(t, "web", p.tokenForm.Get("client_id"))
	assert.Equal(t, testRedirect, p.tokenForm.Get("redirect_uri"))

	// The session cookie set during login is carried by the credential.
	u, _ := url.Parse(p.server.URL)
	assert.NotEmpty(t, cred.Jar.Cookies(u))
}

func TestAuthenticate_JWTExpiry(t *testing.T) {
	p := newFakeProvider(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	p.accessToken = signed

	cred, err := p.authenticator().Authenticate(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.True(t, exp.Equal(cred.ExpiresAt), "expiry %v, want %v", cred.ExpiresAt, exp)
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(p *fakeProvider)
		identity auth.Identity
		step     string
	}{
		{name: "missing identity", setup: func(*fakeProvider) {}, identity: auth.Identity{Username: "jan"}, step: "identity"},
		{name: "missing csrf token", setup: func(p *fakeProvider) { p.omitCSRF = true }, identity: testIdentity, step: "csrf"},
		{name: "missing code", setup: func(p *fakeProvider) { p.omitCode = true }, identity: testIdentity, step: "callback"},
		{name: "token rejected", setup: func(p *fakeProvider) { p.tokenStatus = http.StatusBadRequest }, identity: testIdentity, step: "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			tt.setup(p)

			_, err := p.authenticator().Authenticate(context.Background(), tt.identity)
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, tt.step, authErr.Step)
		})
	}
}

func TestAuthenticate_NoRedirectFromAuthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAuthenticator(AuthenticatorConfig{LoginURL: srv.URL, RedirectURL: testRedirect}, logger.Discard())
	_, err := a.Authenticate(context.Background(), testIdentity)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "authorize", authErr.Step)
}

func TestTokenExpiry_Opaque(t *testing.T) {
	assert.True(t, tokenExpiry("not-a-jwt").IsZero())
}
