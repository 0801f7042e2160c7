package rotation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RoundRobinInInsertionOrder(t *testing.T) {
	pool := NewPool([]string{"k1", "k2", "k3"})

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, pool.Next())
	}
	assert.Equal(t, []string{"k1", "k2", "k3"}, got)

	// 第N+1次调用回到第一个值
	assert.Equal(t, "k1", pool.Next())
	assert.Equal(t, 1, pool.CurrentIndex())
}

func TestPool_AllEmptyReturnsZeroValue(t *testing.T) {
	pool := NewPool([]string{"", "", ""})

	assert.Equal(t, 0, pool.Len())
	for i := 0; i < 5; i++ {
		assert.Equal(t, "", pool.Next())
	}

	ptrPool := NewPool([]*int{nil, nil})
	assert.Nil(t, ptrPool.Next())
}

func TestPool_FiltersEmptiesAtConstruction(t *testing.T) {
	pool := NewPool([]string{"", "a", "", "b", ""})

	require.Equal(t, 2, pool.Len())
	assert.Equal(t, []string{"a", "b"}, pool.Values())
	for i := 0; i < 10; i++ {
		assert.NotEqual(t, "", pool.Next())
	}
}

func TestPool_SkipsZeroValueThatSlippedThrough(t *testing.T) {
	pool := &Pool[string]{values: []string{"a", "", "b"}}

	assert.Equal(t, "a", pool.Next())
	assert.Equal(t, "b", pool.Next())
	assert.Equal(t, "a", pool.Next())
}

func TestPool_ConcurrentNextIsBalanced(t *testing.T) {
	values := []string{"a", "b", "c", "d"}
	pool := NewPool(values)

	const perWorker = 250
	const workers = 8

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < perWorker; i++ {
				local[pool.Next()]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// 总推进次数是长度的整数倍时，每个值被选中的次数完全相同
	for _, v := range values {
		assert.Equal(t, workers*perWorker/len(values), counts[v], "value %s", v)
	}
	assert.Equal(t, 0, pool.CurrentIndex())
}

func TestRegistry_IndependentPools(t *testing.T) {
	registry := NewRegistry[string]()

	assert.True(t, registry.Register(0, []string{"a", "b"}))
	assert.True(t, registry.Register(1, []string{"x", "y", "z"}))
	assert.False(t, registry.Register(0, []string{"c"}))
	assert.Equal(t, 2, registry.Len())

	assert.Equal(t, "a", registry.Next(0))
	assert.Equal(t, "x", registry.Next(1))
	assert.Equal(t, "b", registry.Next(0))
	assert.Equal(t, "y", registry.Next(1))

	assert.Equal(t, 0, registry.CurrentIndex(0))
	assert.Equal(t, 2, registry.CurrentIndex(1))
}

func TestRegistry_UnknownIndex(t *testing.T) {
	registry := NewRegistry[string]()

	assert.Equal(t, "", registry.Next(42))
	assert.Equal(t, -1, registry.CurrentIndex(42))
}

func BenchmarkPool_Next(b *testing.B) {
	pool := NewPool([]string{"k1", "k2", "k3", "k4"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Next()
	}
}
