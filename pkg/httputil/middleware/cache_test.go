package middleware

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	cache := NewCache[string]()

	cache.Set("key1", "value1", 1*time.Minute)
	value, found := cache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", value)

	_, found = cache.Get("nonexistent")
	assert.False(t, found)
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[string]()

	cache.Set("short", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, found := cache.Get("short")
	assert.False(t, found, "expected short to be expired")
	assert.Equal(t, 1, cache.Len(), "expired entries stay until cleanup")
}

func TestCache_CleanupExpired(t *testing.T) {
	cache := NewCache[string]()

	cache.Set("expired1", "value1", 10*time.Millisecond)
	cache.Set("expired2", "value2", 10*time.Millisecond)
	cache.Set("valid", "value3", 1*time.Minute)

	time.Sleep(20 * time.Millisecond)
	cache.CleanupExpired()

	assert.Equal(t, 1, cache.Len())
	_, found := cache.Get("valid")
	assert.True(t, found)
}

func TestCache_Concurrency(t *testing.T) {
	cache := NewCache[int]()
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cache.Set(fmt.Sprintf("key%d", i), i, 1*time.Minute)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = cache.Get(fmt.Sprintf("key%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		v, found := cache.Get(fmt.Sprintf("key%d", i))
		assert.True(t, found)
		assert.Equal(t, i, v)
	}
}

func BenchmarkCache_GetParallel(b *testing.B) {
	cache := NewCache[int]()
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("key%d", i), i, 1*time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			cache.Get(fmt.Sprintf("key%d", i%1000))
			i++
		}
	})
}
