package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	key := UUIDv7Generator{}.Generate()

	assert.Equal(t, 36, len(key), "UUID should be 36 characters")

	parsed, err := uuid.Parse(key)
	require.NoError(t, err, "key should be valid UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	keys := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys <- gen.Generate()
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]bool, goroutines)
	for k := range keys {
		require.False(t, seen[k], "key %s generated twice", k)
		seen[k] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixedGenerator_Sequence(t *testing.T) {
	gen := NewFixedGenerator("k-1", "k-2")

	assert.Equal(t, "k-1", gen.Generate())
	assert.Equal(t, "k-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
