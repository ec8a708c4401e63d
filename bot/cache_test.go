package bot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedSizeMapEvictsOldest(t *testing.T) {
	m := NewLimitedSizeMap[string, int](3)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	require.Equal(t, 3, m.Len())

	m.Set("d", 4)

	assert.Equal(t, 3, m.Len())
	assert.False(t, m.Has("a"), "oldest key should be evicted")
	assert.True(t, m.Has("b"))
	assert.True(t, m.Has("c"))
	assert.True(t, m.Has("d"))
}

func TestLimitedSizeMapOverwriteKeepsPosition(t *testing.T) {
	m := NewLimitedSizeMap[string, int](2)
	m.Set("a", 1)
	m.Set("b", 2)

	// Overwriting does not refresh insertion order; "a" is still oldest.
	m.Set("a", 10)
	require.Equal(t, 2, m.Len())

	m.Set("c", 3)
	assert.False(t, m.Has("a"))
	assert.True(t, m.Has("b"))
	assert.True(t, m.Has("c"))

	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLimitedSizeMapDelete(t *testing.T) {
	m := NewLimitedSizeMap[string, int](2)
	m.Set("a", 1)
	m.Delete("a")
	assert.False(t, m.Has("a"))
	assert.Equal(t, 0, m.Len())

	// Deleting an absent key is a no-op.
	m.Delete("nope")

	// Delete releases the key's eviction-order slot.
	m.Set("b", 2)
	m.Set("c", 3)
	m.Set("d", 4)
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Has("b"))
	assert.True(t, m.Has("c"))
	assert.True(t, m.Has("d"))
}

func TestLimitedSizeMapDeleteThenReinsert(t *testing.T) {
	m := NewLimitedSizeMap[string, int](2)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("a")

	// Re-inserting a deleted key joins the back of the queue; the next
	// overflow evicts "b", the oldest survivor, never the fresh "a".
	m.Set("a", 10)
	m.Set("c", 3)

	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Has("b"))
	assert.True(t, m.Has("a"))
	assert.True(t, m.Has("c"))

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestLimitedSizeMapOnEvict(t *testing.T) {
	m := NewLimitedSizeMap[string, int](2)
	var evicted []string
	m.OnEvict(func(key string) { evicted = append(evicted, key) })

	m.Set("a", 1)
	m.Set("b", 2)
	assert.Empty(t, evicted)

	m.Set("c", 3)
	assert.Equal(t, []string{"a"}, evicted)

	// Overwrites and Deletes never trigger the callback.
	m.Set("b", 20)
	m.Delete("b")
	assert.Equal(t, []string{"a"}, evicted)

	// The callback may call back into the map.
	m.OnEvict(func(key string) { m.Delete(key) })
	m.Set("d", 4)
	m.Set("e", 5)
	assert.Equal(t, 2, m.Len())
}

func TestLimitedSizeMapGetMissing(t *testing.T) {
	m := NewLimitedSizeMap[string, string](1)
	v, ok := m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestLimitedSizeMapInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewLimitedSizeMap[string, int](0) })
	assert.Panics(t, func() { NewLimitedSizeMap[string, int](-5) })
}

func TestLimitedSizeMapConcurrentAccess(t *testing.T) {
	m := NewLimitedSizeMap[string, int](64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("%d-%d", n, j)
				m.Set(key, j)
				m.Get(key)
				m.Has(key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, m.Len())
}
