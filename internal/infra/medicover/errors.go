package medicover

import (
	"errors"
	"fmt"
)

// ErrCredentialExpired is returned when the API keeps answering 401 after the
// allowed number of re-authentications.
var ErrCredentialExpired = errors.New("credential expired: API still returns 401 after re-authentication")

// AuthError reports which step of the login exchange failed.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authErr(step string, format string, args ...any) *AuthError {
	return &AuthError{Step: step, Err: fmt.Errorf(format, args...)}
}

// TransientAPIError is a non-200, non-401 API answer. Callers degrade it to an
// empty result.
type TransientAPIError struct {
	StatusCode int
	Body       string
}

func (e *TransientAPIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}
