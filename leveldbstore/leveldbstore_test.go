package leveldbstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrenagi/go-tus-client/leveldbstore"
)

func TestStore(t *testing.T) {
	t.Run("set then get returns the same url", func(t *testing.T) {
		s, err := leveldbstore.New(filepath.Join(t.TempDir(), "store"))
		require.NoError(t, err)
		defer s.Close()

		s.Set("fp", "http://localhost:8080/files/a")

		url, ok := s.Get("fp")
		assert.True(t, ok)
		assert.Equal(t, "http://localhost:8080/files/a", url)
	})

	t.Run("remove then get reports absent", func(t *testing.T) {
		s, err := leveldbstore.New(filepath.Join(t.TempDir(), "store"))
		require.NoError(t, err)
		defer s.Close()

		s.Set("fp", "http://localhost:8080/files/a")
		s.Remove("fp")

		_, ok := s.Get("fp")
		assert.False(t, ok)
	})

	t.Run("entries survive a close and reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store")

		s, err := leveldbstore.New(path)
		require.NoError(t, err)
		s.Set("fp", "http://localhost:8080/files/a")
		require.NoError(t, s.Close())

		reopened, err := leveldbstore.New(path)
		require.NoError(t, err)
		defer reopened.Close()

		url, ok := reopened.Get("fp")
		assert.True(t, ok)
		assert.Equal(t, "http://localhost:8080/files/a", url)
	})
}
