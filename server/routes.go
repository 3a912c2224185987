package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Endpoint describes what a virtual host resolves to. Exactly one of Origin
// or Message drives connection handling: with an origin the client is
// relayed, without one the gateway synthesizes a status (Motd) or disconnect
// (Message) reply itself.
type Endpoint struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Origin   string `yaml:"origin,omitempty" json:"origin,omitempty"`
	Motd     string `yaml:"motd,omitempty" json:"motd,omitempty"`
	Message  string `yaml:"message,omitempty" json:"message,omitempty"`
}

func (e *Endpoint) HasOrigin() bool {
	return e.Origin != ""
}

type IRoutes interface {
	Reset()
	RegisterAll(endpoints []Endpoint)
	// FindEndpointForServerAddress returns the endpoint registered for the
	// given server address, or nil when none is configured. Matching is an
	// exact, case-sensitive comparison against the hostname as configured.
	FindEndpointForServerAddress(serverAddress string) *Endpoint
	GetEndpoints() []Endpoint
	CreateEndpoint(endpoint Endpoint)
	DeleteEndpoint(hostname string) bool
	SetCacheSize(size int)
}

var Routes = NewRoutes()

func NewRoutes() IRoutes {
	return &routesImpl{
		endpoints: make(map[string]*Endpoint),
		cache:     newRouteCache(0),
	}
}

type routesImpl struct {
	sync.RWMutex
	endpoints map[string]*Endpoint
	cache     *routeCache
}

func (r *routesImpl) Reset() {
	r.Lock()
	defer r.Unlock()

	r.endpoints = make(map[string]*Endpoint)
	r.cache.Purge()
}

func (r *routesImpl) RegisterAll(endpoints []Endpoint) {
	for _, endpoint := range endpoints {
		r.CreateEndpoint(endpoint)
	}
}

func (r *routesImpl) SetCacheSize(size int) {
	r.Lock()
	defer r.Unlock()

	r.cache = newRouteCache(size)
}

func (r *routesImpl) FindEndpointForServerAddress(serverAddress string) *Endpoint {
	// the registry read and the cache insert stay under one read lock so a
	// mutation's Purge cannot slip in between and leave a stale entry behind
	r.RLock()
	endpoint, cached := r.cache.Get(serverAddress)
	if !cached {
		endpoint = r.endpoints[serverAddress]
		if endpoint != nil {
			r.cache.Put(serverAddress, endpoint)
		}
	}
	r.RUnlock()

	logrus.WithFields(logrus.Fields{
		"serverAddress": serverAddress,
		"found":         endpoint != nil,
	}).Debug("Resolved endpoint for server address")

	return endpoint
}

func (r *routesImpl) GetEndpoints() []Endpoint {
	r.RLock()
	defer r.RUnlock()

	result := make([]Endpoint, 0, len(r.endpoints))
	for _, endpoint := range r.endpoints {
		result = append(result, *endpoint)
	}
	return result
}

func (r *routesImpl) CreateEndpoint(endpoint Endpoint) {
	r.Lock()
	defer r.Unlock()

	logrus.WithFields(logrus.Fields{
		"hostname": endpoint.Hostname,
		"origin":   endpoint.Origin,
	}).Info("Created endpoint route")

	r.endpoints[endpoint.Hostname] = &endpoint
	r.cache.Purge()
}

func (r *routesImpl) DeleteEndpoint(hostname string) bool {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.endpoints[hostname]; ok {
		logrus.WithField("hostname", hostname).Info("Deleting endpoint route")
		delete(r.endpoints, hostname)
		r.cache.Purge()
		return true
	}
	return false
}
