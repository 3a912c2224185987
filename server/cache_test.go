package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := newRouteCache(2)

	a := &Endpoint{Hostname: "a.example.com"}
	b := &Endpoint{Hostname: "b.example.com"}
	c := &Endpoint{Hostname: "c.example.com"}

	cache.Put("a.example.com", a)
	cache.Put("b.example.com", b)

	// touch a so that b becomes the eviction candidate
	_, ok := cache.Get("a.example.com")
	require.True(t, ok)

	cache.Put("c.example.com", c)
	assert.Equal(t, 2, cache.Len())

	_, ok = cache.Get("b.example.com")
	assert.False(t, ok)

	got, ok := cache.Get("a.example.com")
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = cache.Get("c.example.com")
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestRouteCache_UpdateExistingKey(t *testing.T) {
	cache := newRouteCache(2)

	first := &Endpoint{Hostname: "a.example.com", Origin: "1.2.3.4:25565"}
	second := &Endpoint{Hostname: "a.example.com", Origin: "5.6.7.8:25565"}

	cache.Put("a.example.com", first)
	cache.Put("a.example.com", second)

	assert.Equal(t, 1, cache.Len())
	got, ok := cache.Get("a.example.com")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRouteCache_ZeroCapacityDisables(t *testing.T) {
	cache := newRouteCache(0)

	cache.Put("a.example.com", &Endpoint{Hostname: "a.example.com"})

	_, ok := cache.Get("a.example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestRouteCache_Purge(t *testing.T) {
	cache := newRouteCache(4)

	cache.Put("a.example.com", &Endpoint{Hostname: "a.example.com"})
	cache.Put("b.example.com", &Endpoint{Hostname: "b.example.com"})
	require.Equal(t, 2, cache.Len())

	cache.Purge()

	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("a.example.com")
	assert.False(t, ok)
}
