package redis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authsession/internal/testutil"
)

func TestRedisArea(t *testing.T) {
	rc := testutil.StartRedisContainer(t)
	t.Cleanup(rc.Terminate)

	t.Run("write then read", func(t *testing.T) {
		a := New(rc.Client, "test:rw:")

		err := a.Write(t.Context(), map[string]string{"accessToken": "a", "refreshToken": "r"})
		require.NoError(t, err)

		got, err := a.Read(t.Context(), "accessToken", "refreshToken", "missing")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"accessToken": "a", "refreshToken": "r"}, got)
	})

	t.Run("prefix isolates areas", func(t *testing.T) {
		persistent := New(rc.Client, "test:iso:persistent:")
		session := New(rc.Client, "test:iso:session:")
		require.NoError(t, persistent.Write(t.Context(), map[string]string{"accessToken": "a"}))

		got, err := session.Read(t.Context(), "accessToken")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("delete", func(t *testing.T) {
		a := New(rc.Client, "test:del:")
		require.NoError(t, a.Write(t.Context(), map[string]string{"accessToken": "a", "refreshToken": "r"}))

		require.NoError(t, a.Delete(t.Context(), "accessToken", "refreshToken"))
		require.NoError(t, a.Delete(t.Context(), "accessToken"), "delete must be idempotent")

		got, err := a.Read(t.Context(), "accessToken", "refreshToken")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("empty keys", func(t *testing.T) {
		a := New(rc.Client, "test:empty:")

		got, err := a.Read(t.Context())
		require.NoError(t, err)
		require.Empty(t, got)
		require.NoError(t, a.Delete(t.Context()))
	})
}
