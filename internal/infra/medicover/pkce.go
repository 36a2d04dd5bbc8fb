package medicover

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/oauth2"
)

const stateAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// CodeChallenge derives the S256 PKCE challenge: base64url(sha256(verifier)), unpadded.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// randomState returns n characters drawn from [a-z0-9].
func randomState(n int) (string, error) {
	max := big.NewInt(int64(len(stateAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate state: %w", err)
		}
		b[i] = stateAlphabet[idx.Int64()]
	}
	return string(b), nil
}
