// Package urlcanon implements URL canonicalization for the coordinator.
//
// Two URLs are considered identical iff their canonical form is byte-equal:
// scheme in {http,https}, lowercased host, explicit port, path, query; the
// fragment is discarded for identity (it never reaches the server).
package urlcanon

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// URL is the coordinator's canonical representation of a fetch target.
type URL struct {
	Scheme string
	Host   string // lowercased, no port
	Port   string // always explicit
	Path   string
	Query  string

	raw *url.URL
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// Parse canonicalizes rawURL, optionally resolved against base (may be nil).
func Parse(rawURL string, base *URL) (*URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("urlcanon: parse %q: %w", rawURL, err)
	}
	if base != nil && !u.IsAbs() {
		u = base.raw.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("urlcanon: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	normalized := &url.URL{
		Scheme:   u.Scheme,
		Host:     host,
		Path:     u.Path,
		RawQuery: u.RawQuery,
	}
	if u.Port() != "" {
		normalized.Host = host + ":" + port
	}
	return &URL{
		Scheme: u.Scheme,
		Host:   host,
		Port:   port,
		Path:   u.Path,
		Query:  u.RawQuery,
		raw:    normalized,
	}, nil
}

// Canonical returns the byte-equal-comparable identity string for this URL.
// The fragment never participates: it is discarded at parse time.
func (u *URL) Canonical() string {
	s := u.Scheme + "://" + u.Host + ":" + u.Port + u.Path
	if u.Query != "" {
		s += "?" + u.Query
	}
	return s
}

// Equal reports whether two URLs have the same canonical identity.
func (u *URL) Equal(other *URL) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.Canonical() == other.Canonical()
}

// String returns the dispatchable absolute URL (with fragment, if any,
// dropped — the coordinator never needs it after canonicalization).
func (u *URL) String() string {
	return u.raw.String()
}

// HostPort returns the "host:port" pair used as the Host Registry and DNS
// cache key.
func (u *URL) HostPort() (string, string) {
	return u.Host, u.Port
}

// WithScheme returns a copy of u under a different scheme, recomputing the
// port if u carried the old scheme's default port. Used by the
// --https-enforce soft/none HTTPS-to-HTTP fallback.
func (u *URL) WithScheme(scheme string) *URL {
	port := u.Port
	if port == defaultPort(u.Scheme) {
		port = defaultPort(scheme)
	}
	raw := *u.raw
	raw.Scheme = scheme
	host := u.Host
	if port != defaultPort(scheme) {
		host = u.Host + ":" + port
	}
	raw.Host = host
	return &URL{
		Scheme: scheme,
		Host:   u.Host,
		Port:   port,
		Path:   u.Path,
		Query:  u.Query,
		raw:    &raw,
	}
}
