package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_ReadWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemory()

	_, ok, err := store.Read(ctx, "pipeline/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, "pipeline/plan", "draft"))
	v, ok, err := store.Read(ctx, "pipeline/plan")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "draft", v)
}

func TestInMemory_WildcardReadsNamespaceOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemory()
	require.NoError(t, store.Write(ctx, "pipeline/a", 1))
	require.NoError(t, store.Write(ctx, "pipeline/b", 2))
	require.NoError(t, store.Write(ctx, "pipelines/c", 3))
	require.NoError(t, store.Write(ctx, "other/d", 4))

	v, ok, err := store.Read(ctx, Wildcard("pipeline"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"pipeline/a": 1, "pipeline/b": 2}, v)
}

func TestInMemory_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Write(ctx, Key("ns", string(rune('a'+i%26))), i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, store.Len())
}

func TestKeyHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ns/a", Key("ns", "a"))
	assert.Equal(t, "ns/a", Key("ns/", "a"))
	assert.Equal(t, "a", Key("", "a"))
	assert.Equal(t, "ns/*", Wildcard("ns/"))

	prefix, ok := IsWildcard("ns/*")
	assert.True(t, ok)
	assert.Equal(t, "ns/", prefix)
	_, ok = IsWildcard("ns/a")
	assert.False(t, ok)
}
