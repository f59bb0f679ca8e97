package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/blacklist"
	"github.com/tanq16/danzo-crawl/internal/dnscache"
	"github.com/tanq16/danzo-crawl/internal/fetch"
	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/httpclient"
	"github.com/tanq16/danzo-crawl/internal/input"
	"github.com/tanq16/danzo-crawl/internal/queue"
	"github.com/tanq16/danzo-crawl/internal/stats"
)

// loopbackBackend resolves every host to the test server's own loopback
// address, the same fixture internal/fetch and internal/input tests use.
type loopbackBackend struct{}

func (loopbackBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
}

func newTestController(t *testing.T, cfg Config, server *httptest.Server) *Controller {
	t.Helper()
	hosts := hostregistry.New(false)
	q := queue.New(hosts)
	bl := blacklist.New()
	resolver := dnscache.New(loopbackBackend{})
	clients := httpclient.New(resolver, httpclient.Config{DNSTimeout: time.Second})
	sink := &stats.Counters{}

	fcfg := fetch.Config{
		OutputDir:    t.TempDir(),
		MaxRedirects: 5,
		Tries:        1,
		WaitRetry:    10 * time.Millisecond,
	}
	pool := fetch.NewPool(fcfg, q, hosts, bl, clients, sink, zerolog.Nop())
	driver := input.New(pool, zerolog.Nop())
	return New(cfg, pool, driver, zerolog.Nop())
}

// serverPort strips the httptest server's scheme, returning host:port so
// tests can substitute it into seed URLs pointing back at the fixture.
func serverPort(server *httptest.Server) string {
	return strings.TrimPrefix(server.URL, "http://")
}

func TestRunDrainsToCompletionOnEmptyQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ctrl := newTestController(t, Config{Workers: 2, PollInterval: 20 * time.Millisecond}, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seed := "http://" + serverPort(server) + "/file"
	status, err := ctrl.Run(ctx, []string{seed}, "", input.ForceNone)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}
}

func TestRunStopsAtQuota(t *testing.T) {
	const bodySize = 1 << 20 // 1MiB per response, comfortably over the quota below
	body := make([]byte, bodySize)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer server.Close()

	ctrl := newTestController(t, Config{
		Workers:      1,
		Quota:        1024, // far smaller than one response, so the first completed job trips it
		PollInterval: 10 * time.Millisecond,
	}, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seed := "http://" + serverPort(server) + "/big"
	status, err := ctrl.Run(ctx, []string{seed}, "", input.ForceNone)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if status != 0 {
		t.Fatalf("expected exit status 0 for a quota-triggered stop, got %d", status)
	}
	if ctrl.pool.BytesDownloaded() == 0 {
		t.Fatal("expected at least one job to have completed before the quota check closed input")
	}
}

func TestRunReportsInputError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	ctrl := newTestController(t, Config{Workers: 1}, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A nonexistent input file makes Driver.Start return an error before any
	// streaming goroutine starts, which Run must propagate rather than hang.
	_, err := ctrl.Run(ctx, nil, "/nonexistent/path/does-not-exist.txt", input.ForceNone)
	if err == nil {
		t.Fatal("expected an error for a missing input file")
	}
}
