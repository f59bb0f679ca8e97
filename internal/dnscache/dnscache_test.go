package dnscache

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingBackend struct {
	calls     int32
	addrs     []netip.Addr
	err       error
	transient bool
	delay     time.Duration
}

func (c *countingBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		if c.transient {
			return nil, &net.DNSError{Err: "try again", IsTemporary: true}
		}
		return nil, c.err
	}
	return c.addrs, nil
}

func TestResolveCachesResult(t *testing.T) {
	backend := &countingBackend{addrs: []netip.Addr{netip.MustParseAddr("1.2.3.4")}}
	r := New(backend)
	ctx := context.Background()
	if _, err := r.Resolve(ctx, "example.com", 80, FamilyAny, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, "example.com", 80, FamilyAny, time.Second); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Fatalf("expected 1 backend call, got %d", backend.calls)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	backend := &countingBackend{addrs: []netip.Addr{netip.MustParseAddr("1.2.3.4")}, delay: 50 * time.Millisecond}
	r := New(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addrs, err := r.Resolve(ctx, "concurrent.example", 443, FamilyAny, time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			if len(addrs) != 1 || addrs[0].String() != "1.2.3.4" {
				t.Errorf("unexpected addrs: %v", addrs)
			}
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Fatalf("expected exactly 1 backend call for 32 concurrent lookups, got %d", backend.calls)
	}
}

func TestResolveTransientRetriesThenSucceeds(t *testing.T) {
	backend := &flakyBackend{failures: 2, addrs: []netip.Addr{netip.MustParseAddr("5.6.7.8")}}
	r := New(backend)
	r.Backoff = time.Millisecond
	addrs, err := r.Resolve(context.Background(), "flaky.example", 80, FamilyAny, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected resolved address, got %v", addrs)
	}
}

type flakyBackend struct {
	failures int
	calls    int
	addrs    []netip.Addr
}

func (f *flakyBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.DNSError{Err: "try again", IsTemporary: true}
	}
	return f.addrs, nil
}

func TestResolvePermanentErrorNoRetry(t *testing.T) {
	backend := &countingBackend{err: errors.New("no such host")}
	r := New(backend)
	_, err := r.Resolve(context.Background(), "nxdomain.example", 80, FamilyAny, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&backend.calls) != 1 {
		t.Fatalf("permanent error should not retry, got %d calls", backend.calls)
	}
}

func TestFamilyPreference(t *testing.T) {
	addrs := []netip.Addr{
		netip.MustParseAddr("2001:db8::1"),
		netip.MustParseAddr("1.2.3.4"),
		netip.MustParseAddr("2001:db8::2"),
	}
	got, err := applyFamily(addrs, FamilyPreferIPv4)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].String() != "1.2.3.4" {
		t.Fatalf("expected IPv4 first, got %v", got)
	}
	if len(got) != 3 {
		t.Fatalf("expected all addrs preserved, got %v", got)
	}
}

func TestFamilyStrictRejectsMismatch(t *testing.T) {
	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::1")}
	if _, err := applyFamily(addrs, FamilyStrictIPv4); err == nil {
		t.Fatal("expected strict IPv4 to reject an IPv6-only result")
	}
}
