package dnscache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
)

// DoHBackend resolves hostnames against a configured DNS-over-HTTPS
// resolver using the JSON API shape (draft-ietf-doh-dns-over-https allows
// either wire-format or the widely deployed application/dns-json
// convenience format; the coordinator uses the latter, which is sufficient
// to exercise the pluggable-backend contract without a full DNS-message
// codec).
type DoHBackend struct {
	ResolverURL string
	Client      *http.Client
}

func NewDoHBackend(resolverURL string, client *http.Client) *DoHBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &DoHBackend{ResolverURL: resolverURL, Client: client}
}

type dohAnswer struct {
	Answer []struct {
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

func (d *DoHBackend) lookup(ctx context.Context, host string, rrtype string) ([]netip.Addr, error) {
	u, err := url.Parse(d.ResolverURL)
	if err != nil {
		return nil, fmt.Errorf("doh: invalid resolver url: %w", err)
	}
	q := u.Query()
	q.Set("name", host)
	q.Set("type", rrtype)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: resolver returned status %d", resp.StatusCode)
	}
	var parsed dohAnswer
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("doh: decode response: %w", err)
	}
	var addrs []netip.Addr
	for _, a := range parsed.Answer {
		if a.Type != 1 && a.Type != 28 { // A, AAAA
			continue
		}
		if ip, err := netip.ParseAddr(a.Data); err == nil {
			addrs = append(addrs, ip)
		}
	}
	return addrs, nil
}

// LookupHost queries both A and AAAA records and merges the results.
func (d *DoHBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	v4, errV4 := d.lookup(ctx, host, "A")
	v6, errV6 := d.lookup(ctx, host, "AAAA")
	if errV4 != nil && errV6 != nil {
		return nil, errV4
	}
	return append(v4, v6...), nil
}
