package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedSessionIDs(t *testing.T) {
	g := NewFixedSessionIDs("pets")
	for i := 0; i < 3; i++ {
		id, err := g.Generate()
		require.NoError(t, err)
		assert.Equal(t, "pets", id)
	}
	assert.Equal(t, 3, g.Issued())
}

func TestFixedSessionIDs_Default(t *testing.T) {
	id, err := NewFixedSessionIDs("").Generate()
	require.NoError(t, err)
	assert.Equal(t, "test-session-default", id)
}

func TestSequentialSessionIDs(t *testing.T) {
	g := NewSequentialSessionIDs()
	first, _ := g.Generate()
	second, _ := g.Generate()
	assert.Equal(t, "test-session-1", first)
	assert.Equal(t, "test-session-2", second)
}

func TestSequentialSessionIDs_Concurrent(t *testing.T) {
	g := NewSequentialSessionIDs()
	const workers = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.Generate()
			assert.NoError(t, err)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers, "every id is unique")
	assert.Equal(t, workers, g.Issued())
}
