package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(path string) Key {
	return Key{Provider: "github", Repo: "octocat/Hello-World", SHA: "head456", Path: path}
}

func TestTokenIsStable(t *testing.T) {
	k := key("README")
	token := k.Token()

	assert.Len(t, token, 16)
	assert.Equal(t, token, key("README").Token(), "identical keys yield identical tokens")
	assert.NotEqual(t, token, key("main.go").Token())
	assert.NotEqual(t, token, Key{Provider: "github", Repo: "octocat/Hello-World", SHA: "base123", Path: "README"}.Token(),
		"token changes with the commit")
}

func TestTokenFieldSeparation(t *testing.T) {
	// Field boundaries must matter: joining fields naively would alias
	// these two keys.
	a := Key{Provider: "p", Repo: "r", SHA: "abc", Path: "def"}
	b := Key{Provider: "p", Repo: "r", SHA: "abcd", Path: "ef"}
	assert.NotEqual(t, a.Token(), b.Token())
}

func TestGetOrLoadCachesBytes(t *testing.T) {
	c := New(1 << 20)
	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte("contents"), nil
	}

	first, err := c.GetOrLoad(context.Background(), key("README"), load)
	require.NoError(t, err)
	second, err := c.GetOrLoad(context.Background(), key("README"), load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loads, "second read must come from the cache")
	assert.Equal(t, 1, c.Len())
}

func TestGetOrLoadDedupesConcurrentLoads(t *testing.T) {
	c := New(1 << 20)
	var loads atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) ([]byte, error) {
		loads.Add(1)
		<-release
		return []byte("contents"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.GetOrLoad(context.Background(), key("README"), load)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load(), "concurrent identical loads share one backend call")
	for _, data := range results {
		assert.Equal(t, []byte("contents"), data)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(100)

	for i := range 10 {
		_, err := c.GetOrLoad(context.Background(), key(fmt.Sprintf("file-%d", i)), func(context.Context) ([]byte, error) {
			return make([]byte, 30), nil
		})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, c.Used(), int64(100), "resident bytes stay under the budget")
	assert.Equal(t, 3, c.Len())

	// The most recently loaded entries survive.
	_, ok := c.Get(key("file-9"))
	assert.True(t, ok)
	_, ok = c.Get(key("file-0"))
	assert.False(t, ok)
}

func TestOversizedValuesAreServedNotCached(t *testing.T) {
	c := New(10)
	data, err := c.GetOrLoad(context.Background(), key("big"), func(context.Context) ([]byte, error) {
		return make([]byte, 100), nil
	})
	require.NoError(t, err)
	assert.Len(t, data, 100)
	assert.Equal(t, 0, c.Len())
}

func TestLoadErrorsAreNotCached(t *testing.T) {
	c := New(1 << 20)
	calls := 0
	load := func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("transient")
		}
		return []byte("ok"), nil
	}

	_, err := c.GetOrLoad(context.Background(), key("README"), load)
	require.Error(t, err)

	data, err := c.GetOrLoad(context.Background(), key("README"), load)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
}
