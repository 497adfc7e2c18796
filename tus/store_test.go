package tus_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imrenagi/go-tus-client/tus"
)

func TestMemoryStore(t *testing.T) {
	t.Run("set then get returns the same url", func(t *testing.T) {
		s := tus.NewMemoryStore()
		s.Set("fp", "http://localhost:8080/files/a")

		url, ok := s.Get("fp")
		assert.True(t, ok)
		assert.Equal(t, "http://localhost:8080/files/a", url)
	})

	t.Run("get of a never-set fingerprint reports absent", func(t *testing.T) {
		s := tus.NewMemoryStore()
		_, ok := s.Get("unknown")
		assert.False(t, ok)
	})

	t.Run("set is last-write-wins", func(t *testing.T) {
		s := tus.NewMemoryStore()
		s.Set("fp", "http://localhost:8080/files/a")
		s.Set("fp", "http://localhost:8080/files/b")

		url, _ := s.Get("fp")
		assert.Equal(t, "http://localhost:8080/files/b", url)
	})

	t.Run("remove then get reports absent", func(t *testing.T) {
		s := tus.NewMemoryStore()
		s.Set("fp", "http://localhost:8080/files/a")
		s.Remove("fp")

		_, ok := s.Get("fp")
		assert.False(t, ok)
	})

	t.Run("safe under concurrent use from distinct fingerprints", func(t *testing.T) {
		s := tus.NewMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fp := fmt.Sprintf("fp-%d", i)
				s.Set(fp, fmt.Sprintf("http://localhost:8080/files/%d", i))
				_, _ = s.Get(fp)
				s.Remove(fp)
			}(i)
		}
		wg.Wait()
	})
}
