// Package pkce generates the verifier/challenge pair for the OAuth2 Proof
// Key for Code Exchange extension (RFC 7636), S256 method only.
package pkce

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

const MethodS256 = "S256"

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// Pair is one authorization attempt's secret and its public commitment.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// GenerateCodeVerifier returns 32 random bytes, base64url encoded without
// padding (43 characters).
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// CreateCodeChallenge returns base64url(sha256(verifier)) without padding.
func CreateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func NewPair() Pair {
	v := GenerateCodeVerifier()
	return Pair{Verifier: v, Challenge: CreateCodeChallenge(v), Method: MethodS256}
}

// Query returns the parameters that go on the authorization URL.
func (p Pair) Query() url.Values {
	return url.Values{
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {p.Method},
	}
}

// Validate checks a verifier against the RFC 7636 length and alphabet.
func Validate(verifier string) error {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return fmt.Errorf("[pkce Validate] verifier length must be between %d and %d characters, got %d",
			minVerifierLength, maxVerifierLength, len(verifier))
	}
	for i := 0; i < len(verifier); i++ {
		if !unreserved(verifier[i]) {
			return fmt.Errorf("[pkce Validate] invalid character %q at position %d", verifier[i], i)
		}
	}
	return nil
}

// unreserved reports whether c is in [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func unreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
