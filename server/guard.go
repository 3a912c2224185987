package server

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type RejectReason string

const (
	ReasonBlocked          RejectReason = "blocked"
	ReasonGlobalLimit      RejectReason = "global_limit"
	ReasonConcurrencyLimit RejectReason = "concurrency_limit"
	ReasonRateLimited      RejectReason = "rate_limited"
)

type addrMatcher struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

func newAddrMatcher(filters []string) (*addrMatcher, error) {
	addrs := make([]netip.Addr, 0)
	prefixes := make([]netip.Prefix, 0)

	for _, filter := range filters {
		if strings.Contains(filter, "/") {
			prefix, err := netip.ParsePrefix(filter)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, prefix)
		} else {
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
	}

	return &addrMatcher{
		addrs:    addrs,
		prefixes: prefixes,
	}, nil
}

func (a *addrMatcher) Match(addr netip.Addr) bool {
	// Before comparison, need to unmap addresses such as
	// ::ffff:127.0.0.1
	unmapped := addr.Unmap()
	for _, a := range a.addrs {
		if a == unmapped {
			return true
		}
	}
	for _, p := range a.prefixes {
		if p.Contains(unmapped) {
			return true
		}
	}
	return false
}

type GuardConfig struct {
	Blocklist       []string
	RateLimit       int
	RateLimitWindow time.Duration
	ConcurrentLimit int
	ClientsLimit    int
}

// AbuseGuard decides whether a freshly accepted connection may proceed,
// before any bytes are read from it. Checks run in order: blocklist, global
// live-connection cap, per-IP live-connection cap, per-IP sliding-window
// attempt rate. The first failing check wins.
type AbuseGuard struct {
	blocklist       *addrMatcher
	rateLimit       int
	window          time.Duration
	concurrentLimit int
	clientsLimit    int

	totalActive atomic.Int64

	mu          sync.Mutex
	activePerIP map[netip.Addr]int
	attempts    map[netip.Addr][]time.Time

	now func() time.Time
}

func NewAbuseGuard(config GuardConfig) (*AbuseGuard, error) {
	blocklist, err := newAddrMatcher(config.Blocklist)
	if err != nil {
		return nil, errors.Wrap(err, "invalid blocklist entry")
	}

	return &AbuseGuard{
		blocklist:       blocklist,
		rateLimit:       config.RateLimit,
		window:          config.RateLimitWindow,
		concurrentLimit: config.ConcurrentLimit,
		clientsLimit:    config.ClientsLimit,
		activePerIP:     make(map[netip.Addr]int),
		attempts:        make(map[netip.Addr][]time.Time),
		now:             time.Now,
	}, nil
}

// Admit evaluates the given client address. When admitted it records the
// attempt and bumps the live counters; the caller must invoke Release exactly
// once for the connection, on every exit path.
func (g *AbuseGuard) Admit(addr netip.Addr) (RejectReason, bool) {
	if g.blocklist.Match(addr) {
		return ReasonBlocked, false
	}

	addr = addr.Unmap()

	g.mu.Lock()
	defer g.mu.Unlock()

	if int(g.totalActive.Load()) >= g.clientsLimit {
		return ReasonGlobalLimit, false
	}

	if g.activePerIP[addr] >= g.concurrentLimit {
		return ReasonConcurrencyLimit, false
	}

	now := g.now()
	recent := g.pruneAttemptsLocked(addr, now)
	if len(recent) >= g.rateLimit {
		return ReasonRateLimited, false
	}

	g.attempts[addr] = append(recent, now)
	g.activePerIP[addr]++
	g.totalActive.Add(1)

	return "", true
}

// Release drops the live counters for a connection previously admitted for
// addr. Window entries are not released; they decay by time alone.
func (g *AbuseGuard) Release(addr netip.Addr) {
	addr = addr.Unmap()

	g.mu.Lock()
	defer g.mu.Unlock()

	if count := g.activePerIP[addr]; count > 1 {
		g.activePerIP[addr] = count - 1
	} else {
		delete(g.activePerIP, addr)
	}
	g.totalActive.Add(-1)
}

// ActiveConnections reports the number of currently admitted connections.
func (g *AbuseGuard) ActiveConnections() int {
	return int(g.totalActive.Load())
}

// pruneAttemptsLocked drops window entries that have aged out for addr and
// returns the remaining ones. An entry exactly one window old no longer
// counts, so an attempt made just past the window edge is admitted.
func (g *AbuseGuard) pruneAttemptsLocked(addr netip.Addr, now time.Time) []time.Time {
	recorded := g.attempts[addr]
	cutoff := now.Add(-g.window)

	kept := recorded[:0]
	for _, at := range recorded {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) == 0 {
		delete(g.attempts, addr)
		return nil
	}
	g.attempts[addr] = kept
	return kept
}
