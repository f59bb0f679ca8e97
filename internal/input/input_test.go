package input

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/blacklist"
	"github.com/tanq16/danzo-crawl/internal/dnscache"
	"github.com/tanq16/danzo-crawl/internal/fetch"
	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/httpclient"
	"github.com/tanq16/danzo-crawl/internal/queue"
	"github.com/tanq16/danzo-crawl/internal/stats"
)

type loopbackBackend struct{}

func (loopbackBackend) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
}

func newTestPool(t *testing.T) *fetch.Pool {
	t.Helper()
	hosts := hostregistry.New(false)
	q := queue.New(hosts)
	bl := blacklist.New()
	resolver := dnscache.New(loopbackBackend{})
	clients := httpclient.New(resolver, httpclient.Config{})
	sink := &stats.Counters{}
	cfg := fetch.Config{OutputDir: t.TempDir(), MaxRedirects: 5, Tries: 3}
	return fetch.NewPool(cfg, q, hosts, bl, clients, sink, zerolog.Nop())
}

func TestStartSeedsPositionalArgs(t *testing.T) {
	pool := newTestPool(t)
	d := New(pool, zerolog.Nop())
	if err := d.Start([]string{"http://example.com/a", "http://example.com/b"}, "", ForceNone); err != nil {
		t.Fatal(err)
	}
	d.Wait()
	// With no input file, Start closes the queue's input side itself; a
	// context with a generous timeout guards against a bug hanging the test.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, 1)
}

func TestStartDeduplicatesRepeatedSeed(t *testing.T) {
	pool := newTestPool(t)
	d := New(pool, zerolog.Nop())
	if err := d.Start([]string{"http://example.com/a", "http://example.com/a"}, "", ForceNone); err != nil {
		t.Fatal(err)
	}
	d.Wait()
	// Both seeds resolve to the same canonical URL; the blacklist admits
	// only the first, so this must not deadlock or double-enqueue.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, 1)
}

func TestStartStreamsPlainFileAndClosesQueue(t *testing.T) {
	pool := newTestPool(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.txt")
	content := "http://example.com/a\n\n# a comment\nhttp://example.com/b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(pool, zerolog.Nop())
	if err := d.Start(nil, path, ForceNone); err != nil {
		t.Fatal(err)
	}
	d.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, 1)
}

func TestStartYAMLSeedList(t *testing.T) {
	pool := newTestPool(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	content := "- link: http://example.com/a\n  op: custom-name.html\n- link: http://example.com/b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(pool, zerolog.Nop())
	if err := d.Start(nil, path, ForceNone); err != nil {
		t.Fatal(err)
	}
	d.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, 1)
}

func TestStartForcedHTMLFile(t *testing.T) {
	pool := newTestPool(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.html")
	content := `<html><body><a href="http://example.com/a">a</a><a href="relative">skipped</a></body></html>`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(pool, zerolog.Nop())
	if err := d.Start(nil, path, ForceHTML); err != nil {
		t.Fatal(err)
	}
	d.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, 1)
}
