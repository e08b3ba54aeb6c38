package storage

import (
	"context"

	apperrors "github.com/jrsteele09/imhotep-client/internal/errors"
)

// Persisted keys. The first three hold the durable session, the verifier key
// only lives between redirect-out and callback-in.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"

	KeyFinanceCodeVerifier = "imhotep_finance_code_verifier"
)

// SessionKeys lists the keys that make up a persisted session.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = apperrors.ErrNotFound

// Store is the small key-value capability every platform adapter provides.
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
