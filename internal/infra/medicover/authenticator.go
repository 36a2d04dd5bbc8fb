// Package medicover talks to the provider's identity server and appointment API.
package medicover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"mediscout/internal/domain/auth"
)

const (
	clientID       = "web"
	appVersion     = "3.4.0-beta.1.0"
	deviceName     = "Chrome"
	csrfFieldName  = "__RequestVerificationToken"
	callbackPath   = "/connect/authorize/callback"
	stateLength    = 32
	maxPageBytes   = 4 << 20
	defaultTimeout = 30 * time.Second
)

// Compile-time interface satisfaction check.
var _ auth.Authenticator = (*Authenticator)(nil)

// AuthenticatorConfig locates the identity provider.
type AuthenticatorConfig struct {
	LoginURL    string // e.g. https://login-online24.medicover.pl
	RedirectURL string // OIDC redirect registered for the web client
	UserAgent   string
	Timeout     time.Duration
	Transport   http.RoundTripper // nil means http.DefaultTransport
}

// Authenticator runs the authorization code + PKCE login against the provider.
type Authenticator struct {
	cfg    AuthenticatorConfig
	oauth  *oauth2.Config
	logger *logrus.Entry
	now    func() time.Time
}

func NewAuthenticator(cfg AuthenticatorConfig, logger *logrus.Entry) *Authenticator {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	loginURL := strings.TrimRight(cfg.LoginURL, "/")
	return &Authenticator{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"openid", "offline_access", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   loginURL + "/connect/authorize",
				TokenURL:  loginURL + "/connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate logs in and returns a bearer credential bound to the login session.
func (a *Authenticator) Authenticate(ctx context.Context, identity auth.Identity) (*auth.Credential, error) {
	if identity.Empty() {
		return nil, authErr("identity", "username and password are required")
	}

	state, err := randomState(stateLength)
	if err != nil {
		return nil, &AuthError{Step: "state", Err: err}
	}
	verifier := oauth2.GenerateVerifier()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, &AuthError{Step: "session", Err: err}
	}
	session := &http.Client{
		Jar:       jar,
		Timeout:   a.cfg.Timeout,
		Transport: newUserAgentTransport(a.cfg.Transport, a.cfg.UserAgent),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	authURL := a.authorizeURL(state, verifier)
	log := a.logger.WithField("username", identity.Username)
	log.Debug("Starting login")

	loginPage, err := a.redirectTarget(ctx, session, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, &AuthError{Step: "authorize", Err: err}
	}

	csrf, err := a.fetchCSRFToken(ctx, session, loginPage.String())
	if err != nil {
		return nil, &AuthError{Step: "csrf", Err: err}
	}

	parsedAuthURL, err := url.Parse(authURL)
	if err != nil {
		return nil, &AuthError{Step: "authorize", Err: err}
	}
	form := url.Values{
		"Input.ReturnUrl": {callbackPath + "?" + parsedAuthURL.RawQuery},
		"Input.LoginType": {"FullLogin"},
		"Input.Username":  {identity.Username},
		"Input.Password":  {identity.Password},
		"Input.Button":    {"login"},
		csrfFieldName:     {csrf},
	}
	callback, err := a.redirectTarget(ctx, session, http.MethodPost, loginPage.String(), form)
	if err != nil {
		return nil, &AuthError{Step: "login", Err: err}
	}

	final, err := a.redirectTarget(ctx, session, http.MethodGet, callback.String(), nil)
	if err != nil {
		return nil, &AuthError{Step: "callback", Err: err}
	}
	code := final.Query().Get("code")
	if code == "" {
		return nil, authErr("callback", "redirect %s carries no authorization code", final.Redacted())
	}

	tok, err := a.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, session), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, &AuthError{Step: "token", Err: err}
	}

	cred := &auth.Credential{
		AccessToken: tok.AccessToken,
		ObtainedAt:  a.now(),
		ExpiresAt:   tok.Expiry,
		Jar:         jar,
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = tokenExpiry(tok.AccessToken)
	}

	log.WithField("expires_at", cred.ExpiresAt).Info("Logged in")
	return cred, nil
}

// authorizeURL builds the /connect/authorize request with the device metadata
// the web client sends.
func (a *Authenticator) authorizeURL(state, verifier string) string {
	return a.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("ui_locales", "pl"),
		oauth2.SetAuthURLParam("app_version", appVersion),
		oauth2.SetAuthURLParam("previous_app_version", appVersion),
		oauth2.SetAuthURLParam("device_id", uuid.NewString()),
		oauth2.SetAuthURLParam("device_name", deviceName),
		oauth2.SetAuthURLParam("ts", strconv.FormatInt(a.now().UnixMilli(), 10)),
	)
}

// redirectTarget performs one request without following redirects and returns
// the resolved Location header.
func (a *Authenticator) redirectTarget(ctx context.Context, session *http.Client, method, target string, form url.Values) (*url.URL, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))

	loc, err := resp.Location()
	if err != nil {
		if errors.Is(err, http.ErrNoLocation) {
			return nil, fmt.Errorf("%s %s returned status %d without a redirect", method, req.URL.Redacted(), resp.StatusCode)
		}
		return nil, err
	}
	a.logger.WithFields(logrus.Fields{"status": resp.StatusCode, "location": loc.Path}).Debug("Login redirect")
	return loc, nil
}

func (a *Authenticator) fetchCSRFToken(ctx context.Context, session *http.Client, page string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return "", err
	}
	resp, err := session.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login page returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}
	token, ok := findInputValue(doc, csrfFieldName)
	if !ok || token == "" {
		return "", fmt.Errorf("%s not found in the login page", csrfFieldName)
	}
	return token, nil
}

// findInputValue returns the value of the first <input name=name> in the tree.
func findInputValue(n *html.Node, name string) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == name {
		return attr(n, "value"), true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := findInputValue(c, name); ok {
			return v, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time.
func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// userAgentTransport stamps every request with a browser user agent.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newUserAgentTransport(base http.RoundTripper, userAgent string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &userAgentTransport{base: base, userAgent: userAgent}
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
