// pkce.go -- RFC 7636 verifier/challenge generation.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkceVerifierBytes is the amount of entropy in a verifier; encodes to 43 base64url chars.
const pkceVerifierBytes = 32

// PKCE holds one verifier/challenge pair. Method is always S256.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a verifier from crypto/rand and derives its S256 challenge.
func NewPKCE() (PKCE, error) {
	var b [pkceVerifierBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return PKCE{}, fmt.Errorf("generating pkce verifier: %w", err)
	}
	return NewPKCEFromBytes(b[:]), nil
}

// NewPKCEFromBytes is the deterministic half of NewPKCE.
func NewPKCEFromBytes(b []byte) PKCE {
	verifier := base64.RawURLEncoding.EncodeToString(b)
	return PKCE{
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
		Method:    "S256",
	}
}

// ChallengeS256 returns base64url(sha256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
