package storage_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/stretchr/testify/require"
)

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	s := storage.NewInMemory()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, storage.KeyAccessToken)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, storage.KeyAccessToken, "a1"))
		v, err := s.Get(ctx, storage.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "a1", v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, storage.KeyAccessToken, "a2"))
		v, err := s.Get(ctx, storage.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "a2", v)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, storage.KeyAccessToken))
		require.NoError(t, s.Delete(ctx, storage.KeyAccessToken))
		_, err := s.Get(ctx, storage.KeyAccessToken)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.Equal(t, 0, s.Len())
	})

	t.Run("empty key rejected", func(t *testing.T) {
		require.Error(t, s.Set(ctx, "", "x"))
		_, err := s.Get(ctx, "")
		require.Error(t, err)
		require.Error(t, s.Delete(ctx, ""))
	})
}
