package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens is the access/refresh pair issued by the backend. Either both are
// set or neither is.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (t Tokens) complete() bool { return t.Access != "" && t.Refresh != "" }

// RefreshResult is the token endpoint response. Refresh is only set when the
// backend rotates the refresh token.
type RefreshResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Refresher performs the network call that mints a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (RefreshResult, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	return f(ctx, refreshToken)
}

// User is the profile record returned by the backend. The client never makes
// authorization decisions from it; fields it does not model are kept in
// Extra so they survive a round trip through storage.
type User struct {
	ID            int64  `json:"id"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	EmailVerified bool   `json:"email_verify,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type userFields User

var knownUserKeys = []string{"id", "username", "email", "first_name", "last_name", "email_verify"}

func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userFields(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(u.Extra)+len(knownUserKeys))
	for k, v := range u.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var fields userFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownUserKeys {
		delete(all, k)
	}
	*u = User(fields)
	if len(all) > 0 {
		u.Extra = all
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. Opaque tokens report ok=false.
func tokenExpiry(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
