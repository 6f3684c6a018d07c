package catalog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenSetMarkIfNew(t *testing.T) {
	t.Parallel()

	s := NewSeenSet()
	require.True(t, s.MarkIfNew("sku-1"))
	require.False(t, s.MarkIfNew("sku-1"))
	require.True(t, s.MarkIfNew("sku-2"))
	require.False(t, s.MarkIfNew(""))
	require.Equal(t, 2, s.Len())
	require.True(t, s.Contains("sku-1"))
	require.False(t, s.Contains("sku-3"))
}

func TestSeenSetReset(t *testing.T) {
	t.Parallel()

	s := NewSeenSet()
	require.True(t, s.MarkIfNew("sku-1"))
	s.Reset()
	require.Equal(t, 0, s.Len())
	require.True(t, s.MarkIfNew("sku-1"))
}

func TestSeenSetConcurrentInsertIfAbsent(t *testing.T) {
	t.Parallel()

	s := NewSeenSet()
	const workers = 16
	const keys = 100

	var wins sync.Map
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				key := fmt.Sprintf("key-%d", k)
				if s.MarkIfNew(key) {
					_, raced := wins.LoadOrStore(key, struct{}{})
					require.False(t, raced, "key %s won twice", key)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, keys, s.Len())
}
