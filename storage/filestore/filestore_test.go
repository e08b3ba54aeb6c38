package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/jrsteele09/imhotep-client/storage/filestore"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

func cheapKDF(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 8, 1, 32)
}

func newStore(t *testing.T, path string, opts ...filestore.Option) *filestore.Store {
	t.Helper()
	s, err := filestore.New(path, append(opts, filestore.WithKeyDerivation(cheapKDF))...)
	require.NoError(t, err)
	return s
}

func TestFileStore_Plain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "imhotep", "session.json")
	s := newStore(t, path)

	_, err := s.Get(ctx, storage.KeyUser)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(ctx, storage.KeyAccessToken, "a1"))
	require.NoError(t, s.Set(ctx, storage.KeyRefreshToken, "r1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a second instance sees what the first wrote
	reopened := newStore(t, path)
	v, err := reopened.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "r1", v)

	require.NoError(t, reopened.Delete(ctx, storage.KeyRefreshToken))
	require.NoError(t, reopened.Delete(ctx, storage.KeyRefreshToken))
	_, err = s.Get(ctx, storage.KeyRefreshToken)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	s := newStore(t, path, filestore.WithPassphrase("correct horse"))

	require.NoError(t, s.Set(ctx, storage.KeyAccessToken, "secret-access-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-access-token")

	t.Run("same passphrase reads back", func(t *testing.T) {
		other := newStore(t, path, filestore.WithPassphrase("correct horse"))
		v, err := other.Get(ctx, storage.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "secret-access-token", v)
	})

	t.Run("wrong passphrase fails", func(t *testing.T) {
		other := newStore(t, path, filestore.WithPassphrase("battery staple"))
		_, err := other.Get(ctx, storage.KeyAccessToken)
		require.Error(t, err)
		require.Contains(t, err.Error(), "wrong passphrase")
	})

	t.Run("plain reader cannot decode", func(t *testing.T) {
		other := newStore(t, path)
		_, err := other.Get(ctx, storage.KeyAccessToken)
		require.Error(t, err)
	})
}

func TestFileStore_New(t *testing.T) {
	_, err := filestore.New("")
	require.Error(t, err)

	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	require.Equal(t, filepath.Join("/tmp/xdg", "imhotep", "session.json"), filestore.DefaultPath("imhotep"))
}
