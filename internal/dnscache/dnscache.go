// Package dnscache implements the DNS Resolver with Cache of spec.md §4.1:
// a blocking hostname lookup with a shared process-wide cache,
// single-flight deduplication, address-family preference, and a pluggable
// resolver backend.
//
// Grounded on original_source/libwget/dns_cache.c (immutable-after-insert
// cache entries keyed by host+port) and original_source/libwget/dns.c
// (family-preference reordering, transient-retry policy), translated from
// the C hashmap+mutex implementation into Go idioms.
package dnscache

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Family is the address-family preference/strictness for a lookup.
type Family int

const (
	FamilyAny Family = iota
	FamilyPreferIPv4
	FamilyPreferIPv6
	FamilyStrictIPv4
	FamilyStrictIPv6
)

// ResolveError reports a DNS failure, distinguishing transient from
// permanent per spec.md §7.
type ResolveError struct {
	Host      string
	Transient bool
	Err       error
}

func (e *ResolveError) Error() string {
	return "dns: resolve " + e.Host + ": " + e.Err.Error()
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Backend is the pluggable resolver implementation: system-lookup or DoH.
type Backend interface {
	// LookupHost performs one unconditional network lookup. It must not
	// itself cache or retry — that is the Resolver's job.
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemBackend resolves via the OS resolver (net.DefaultResolver).
type SystemBackend struct {
	Resolver *net.Resolver
}

func NewSystemBackend() *SystemBackend {
	return &SystemBackend{Resolver: net.DefaultResolver}
}

func (s *SystemBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	ipAddrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	return ipAddrs, nil
}

type cacheKey struct {
	host string
	port uint16
}

type cacheEntry struct {
	addrs []netip.Addr // immutable after insertion; race-winner keeps its value
}

// Resolver is the process-wide, shared DNS cache plus single-flight
// coalescing layer in front of a pluggable Backend.
type Resolver struct {
	backend Backend
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[cacheKey]*cacheEntry

	// MaxAttempts and Backoff implement the transient-failure retry policy.
	MaxAttempts int
	Backoff     time.Duration
}

// New constructs a Resolver backed by backend, with the spec.md §4.1
// defaults: up to 3 attempts, 100ms backoff between them.
func New(backend Backend) *Resolver {
	return &Resolver{
		backend:     backend,
		cache:       make(map[cacheKey]*cacheEntry),
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
	}
}

// isTransient reports whether err looks like a transient ("try again")
// resolution failure as opposed to a permanent one (NXDOMAIN etc).
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

// Resolve returns the ordered address list for host:port, applying the
// cache, single-flight, family-preference/strictness and retry policy of
// spec.md §4.1. timeout<0 means infinite, timeout==0 means immediate.
func (r *Resolver) Resolve(ctx context.Context, host string, port uint16, family Family, timeout time.Duration) ([]netip.Addr, error) {
	key := cacheKey{host: host, port: port}

	r.mu.RLock()
	entry, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return applyFamily(entry.addrs, family)
	}

	if timeout == 0 {
		return nil, &ResolveError{Host: host, Transient: false, Err: errors.New("immediate timeout, cache miss")}
	}
	lookupCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Single-flight: concurrent identical (host,port) queries perform at
	// most one underlying lookup; losers observe the winner's result. The
	// coalescing key intentionally spans the whole attempt loop below so a
	// retry never races a second caller into a duplicate lookup.
	sfKey := host + "|" + itoa(port)
	v, err, _ := r.group.Do(sfKey, func() (any, error) {
		// Re-check cache: another single-flight generation may have
		// populated it while we waited to enter Do.
		r.mu.RLock()
		if e, ok := r.cache[key]; ok {
			r.mu.RUnlock()
			return e.addrs, nil
		}
		r.mu.RUnlock()

		var lastErr error
		for attempt := 0; attempt < r.MaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(r.Backoff):
				case <-lookupCtx.Done():
					return nil, lookupCtx.Err()
				}
			}
			addrs, lerr := r.backend.LookupHost(lookupCtx, host)
			if lerr == nil {
				r.mu.Lock()
				// Race-winner keeps its value: don't overwrite an existing entry.
				if e, ok := r.cache[key]; ok {
					r.mu.Unlock()
					return e.addrs, nil
				}
				e := &cacheEntry{addrs: addrs}
				r.cache[key] = e
				r.mu.Unlock()
				return addrs, nil
			}
			lastErr = lerr
			if !isTransient(lerr) {
				return nil, &ResolveError{Host: host, Transient: false, Err: lerr}
			}
		}
		return nil, &ResolveError{Host: host, Transient: true, Err: lastErr}
	})
	if err != nil {
		return nil, err
	}
	return applyFamily(v.([]netip.Addr), family)
}

// applyFamily reorders/filters addrs per the preference or strictness
// requested. With preference, matching-family addresses move to the head,
// preserving relative order; others follow. With strictness, a
// wrong-family address anywhere is a ResolveError.
func applyFamily(addrs []netip.Addr, family Family) ([]netip.Addr, error) {
	switch family {
	case FamilyAny:
		return addrs, nil
	case FamilyStrictIPv4, FamilyStrictIPv6:
		wantV4 := family == FamilyStrictIPv4
		for _, a := range addrs {
			if a.Is4() != wantV4 && !(a.Is4In6() && wantV4) {
				return nil, &ResolveError{Err: errors.New("address family mismatch under strict policy")}
			}
		}
		return addrs, nil
	case FamilyPreferIPv4, FamilyPreferIPv6:
		wantV4 := family == FamilyPreferIPv4
		var head, tail []netip.Addr
		for _, a := range addrs {
			isV4 := a.Is4() || a.Is4In6()
			if isV4 == wantV4 {
				head = append(head, a)
			} else {
				tail = append(tail, a)
			}
		}
		return append(head, tail...), nil
	default:
		return addrs, nil
	}
}

func itoa(p uint16) string {
	if p == 0 {
		return "0"
	}
	buf := [5]byte{}
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}
