package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutes_FindEndpointForServerAddress(t *testing.T) {
	routes := NewRoutes()
	routes.RegisterAll([]Endpoint{
		{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"},
		{Hostname: "status.example.com", Motd: "Welcome"},
	})

	endpoint := routes.FindEndpointForServerAddress("mc.example.com")
	require.NotNil(t, endpoint)
	assert.Equal(t, "10.0.0.1:25565", endpoint.Origin)
	assert.True(t, endpoint.HasOrigin())

	endpoint = routes.FindEndpointForServerAddress("status.example.com")
	require.NotNil(t, endpoint)
	assert.False(t, endpoint.HasOrigin())
	assert.Equal(t, "Welcome", endpoint.Motd)

	assert.Nil(t, routes.FindEndpointForServerAddress("unknown.example.com"))
}

func TestRoutes_MatchingIsCaseSensitive(t *testing.T) {
	routes := NewRoutes()
	routes.RegisterAll([]Endpoint{
		{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"},
	})

	assert.Nil(t, routes.FindEndpointForServerAddress("MC.EXAMPLE.COM"))
	assert.Nil(t, routes.FindEndpointForServerAddress("mc.example.com."))
	assert.NotNil(t, routes.FindEndpointForServerAddress("mc.example.com"))
}

func TestRoutes_CachedLookupSurvivesRepeats(t *testing.T) {
	routes := NewRoutes()
	routes.SetCacheSize(4)
	routes.RegisterAll([]Endpoint{
		{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"},
	})

	first := routes.FindEndpointForServerAddress("mc.example.com")
	require.NotNil(t, first)
	second := routes.FindEndpointForServerAddress("mc.example.com")
	assert.Same(t, first, second)
}

func TestRoutes_MutationInvalidatesCachedLookups(t *testing.T) {
	routes := NewRoutes()
	routes.SetCacheSize(4)
	routes.RegisterAll([]Endpoint{
		{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"},
	})

	// prime the cache
	require.NotNil(t, routes.FindEndpointForServerAddress("mc.example.com"))

	routes.CreateEndpoint(Endpoint{Hostname: "mc.example.com", Origin: "10.0.0.2:25565"})
	endpoint := routes.FindEndpointForServerAddress("mc.example.com")
	require.NotNil(t, endpoint)
	assert.Equal(t, "10.0.0.2:25565", endpoint.Origin)

	require.True(t, routes.DeleteEndpoint("mc.example.com"))
	assert.Nil(t, routes.FindEndpointForServerAddress("mc.example.com"))
}

func TestRoutes_DeletedEndpointNeverResolvesAfterRacingLookup(t *testing.T) {
	routes := NewRoutes()
	routes.SetCacheSize(8)

	// a lookup racing the delete must not re-insert the endpoint into the
	// cache after the delete has purged it
	for i := 0; i < 2000; i++ {
		routes.CreateEndpoint(Endpoint{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"})

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			routes.FindEndpointForServerAddress("mc.example.com")
		}()
		go func() {
			defer wg.Done()
			<-start
			routes.DeleteEndpoint("mc.example.com")
		}()
		close(start)
		wg.Wait()

		require.Nilf(t, routes.FindEndpointForServerAddress("mc.example.com"),
			"iteration %d: endpoint resolved after delete completed", i)
	}
}

func TestRoutes_DeleteEndpoint(t *testing.T) {
	routes := NewRoutes()
	routes.RegisterAll([]Endpoint{
		{Hostname: "mc.example.com", Origin: "10.0.0.1:25565"},
	})

	assert.False(t, routes.DeleteEndpoint("other.example.com"))
	assert.True(t, routes.DeleteEndpoint("mc.example.com"))
	assert.False(t, routes.DeleteEndpoint("mc.example.com"))
	assert.Empty(t, routes.GetEndpoints())
}

func TestRoutes_Reset(t *testing.T) {
	routes := NewRoutes()
	routes.SetCacheSize(4)
	routes.RegisterAll([]Endpoint{
		{Hostname: "a.example.com", Origin: "10.0.0.1:25565"},
		{Hostname: "b.example.com", Origin: "10.0.0.2:25565"},
	})
	require.NotNil(t, routes.FindEndpointForServerAddress("a.example.com"))

	routes.Reset()

	assert.Nil(t, routes.FindEndpointForServerAddress("a.example.com"))
	assert.Empty(t, routes.GetEndpoints())
}
