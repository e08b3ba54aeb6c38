package pkce_test

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/jrsteele09/imhotep-client/pkce"
	"github.com/stretchr/testify/require"
)

const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestGenerateCodeVerifier(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		v := pkce.GenerateCodeVerifier()
		require.Len(t, v, 43)
		require.NotContains(t, v, "=")
		require.NotContains(t, v, "+")
		require.NotContains(t, v, "/")
		require.NoError(t, pkce.Validate(v))
		require.False(t, seen[v], "verifier repeated")
		seen[v] = true
	}
}

func TestCreateCodeChallenge(t *testing.T) {
	t.Run("RFC 7636 appendix B", func(t *testing.T) {
		require.Equal(t, rfcChallenge, pkce.CreateCodeChallenge(rfcVerifier))
	})

	t.Run("deterministic and equal to sha256 base64url", func(t *testing.T) {
		v := pkce.GenerateCodeVerifier()
		sum := sha256.Sum256([]byte(v))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		require.Equal(t, want, pkce.CreateCodeChallenge(v))
		require.Equal(t, pkce.CreateCodeChallenge(v), pkce.CreateCodeChallenge(v))
	})
}

func TestNewPair(t *testing.T) {
	p := pkce.NewPair()
	require.Equal(t, pkce.MethodS256, p.Method)
	require.Equal(t, pkce.CreateCodeChallenge(p.Verifier), p.Challenge)

	q := p.Query()
	require.Equal(t, p.Challenge, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Empty(t, q.Get("code_verifier"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{"rfc example", rfcVerifier, false},
		{"max length", strings.Repeat("a", 128), false},
		{"all unreserved", strings.Repeat("Az09-._~", 6), false},
		{"too short", strings.Repeat("a", 42), true},
		{"too long", strings.Repeat("a", 129), true},
		{"plus sign", strings.Repeat("a", 42) + "+", true},
		{"padding", strings.Repeat("a", 42) + "=", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pkce.Validate(tt.verifier)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
