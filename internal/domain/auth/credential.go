package auth

import (
	"context"
	"net/http"
	"time"
)

// Identity holds the user's login secrets for the identity provider.
type Identity struct {
	Username string
	Password string
}

// Empty reports whether either secret is missing.
func (i Identity) Empty() bool {
	return i.Username == "" || i.Password == ""
}

// Credential is a bearer token together with the HTTP session it was issued in.
type Credential struct {
	AccessToken string
	ObtainedAt  time.Time
	// ExpiresAt is zero when the token lifetime is unknown.
	ExpiresAt time.Time
	// Jar carries the provider session cookies established during login.
	Jar http.CookieJar
}

// Expired reports whether the credential is known to be past its lifetime at now.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Authenticator obtains a fresh Credential for an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, identity Identity) (*Credential, error)
}
