// Package input implements the Input Driver of spec.md §4.7: seed URLs
// arrive from CLI positional arguments, a --input-file, or stdin, and each
// one is canonicalized, deduplicated against the blacklist, and enqueued —
// exactly the bookkeeping a recursively discovered link goes through, minus
// the recursion rules (fetch.Pool.DispatchSeed). For an --input-file forced
// to a content type (HTML/CSS/sitemap), the file is parsed directly with
// internal/parse's concrete parsers to extract URLs without any network
// fetch, per spec.md §4.7.
//
// Grounded on the teacher's utils.ReadDownloadList (YAML url-list decode,
// DownloadEntry shape) generalized to add the streaming-stdin producer
// thread spec.md §5 requires — the teacher's CLI takes one shot at its
// input and never streams.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/danzo-crawl/internal/fetch"
	"github.com/tanq16/danzo-crawl/internal/parse"
)

// SeedEntry is one line of a YAML seed-list file — the same field shape as
// the teacher's utils.DownloadEntry ("link" + optional "op" output path).
type SeedEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
}

// ForceParse names the content type an --input-file's contents should be
// parsed as, bypassing the plain URL-per-line/YAML seed-list decoders.
type ForceParse string

const (
	ForceNone    ForceParse = ""
	ForceHTML    ForceParse = "html"
	ForceCSS     ForceParse = "css"
	ForceSitemap ForceParse = "sitemap"
)

func (f ForceParse) mimeType() string {
	switch f {
	case ForceHTML:
		return "text/html"
	case ForceCSS:
		return "text/css"
	case ForceSitemap:
		return "application/xml"
	default:
		return ""
	}
}

// Driver feeds seed URLs into a fetch.Pool. Positional arguments and file
// input are consumed synchronously by Start; a plain-text file or stdin is
// consumed by a dedicated producer goroutine (spec.md §5: "N workers + 1
// input thread + 1 main thread"), which closes the pool's queue once
// exhausted so the Main Controller's queue-empty-and-input-closed check
// (spec.md §4.8) eventually fires.
type Driver struct {
	pool *fetch.Pool
	log  zerolog.Logger

	wg sync.WaitGroup
}

// New returns a Driver that dispatches seeds into pool.
func New(pool *fetch.Pool, log zerolog.Logger) *Driver {
	return &Driver{pool: pool, log: log}
}

// Wait blocks until any streaming producer goroutine started by Start has
// returned.
func (d *Driver) Wait() { d.wg.Wait() }

// Start seeds positional-argument URLs synchronously, then dispatches
// inputFile (if any) according to force: a forced content type is parsed
// directly and seeded synchronously; otherwise the file (or "-" for stdin)
// is streamed one URL per line by a background goroutine. When no
// streaming goroutine is needed, Start closes the queue's input side
// itself before returning.
func (d *Driver) Start(positional []string, inputFile string, force ForceParse) error {
	for _, raw := range positional {
		d.seed(raw, "")
	}

	if inputFile == "" {
		d.pool.CloseInput()
		return nil
	}

	if force != ForceNone {
		if err := d.seedFromForcedFile(inputFile, force); err != nil {
			return err
		}
		d.pool.CloseInput()
		return nil
	}

	if strings.HasSuffix(inputFile, ".yaml") || strings.HasSuffix(inputFile, ".yml") {
		if err := d.seedFromYAMLFile(inputFile); err != nil {
			return err
		}
		d.pool.CloseInput()
		return nil
	}

	var r io.ReadCloser
	if inputFile == "-" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(inputFile)
		if err != nil {
			return fmt.Errorf("input: open %q: %w", inputFile, err)
		}
		r = f
	}

	d.wg.Add(1)
	go d.streamLines(r)
	return nil
}

// streamLines is the dedicated producer thread for stdin/plain-file input:
// one URL per line, blank lines and "#" comments skipped, closing the
// queue's input side at EOF.
func (d *Driver) streamLines(r io.ReadCloser) {
	defer d.wg.Done()
	defer r.Close()
	defer d.pool.CloseInput()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d.seed(line, "")
	}
	if err := scanner.Err(); err != nil {
		d.log.Error().Err(err).Msg("input stream read error")
	}
}

func (d *Driver) seedFromYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("input: read %q: %w", path, err)
	}
	var entries []SeedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("input: parse yaml seed list %q: %w", path, err)
	}
	for _, e := range entries {
		d.seed(e.Link, e.OutputPath)
	}
	return nil
}

// seedFromForcedFile parses a local file directly as HTML/CSS/sitemap,
// extracting URLs without ever issuing a network fetch, per spec.md §4.7.
func (d *Driver) seedFromForcedFile(path string, force ForceParse) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("input: read %q: %w", path, err)
	}
	parser := parse.ForContentType(force.mimeType())
	if parser == nil {
		return fmt.Errorf("input: no parser for forced type %q", force)
	}
	// There is no fetch origin for a local file, so relative links inside
	// it cannot be resolved against a base URL — only absolute URLs can be
	// dispatched; a relative href is rejected by urlcanon.Parse inside
	// DispatchSeed and logged by seed as an invalid seed url.
	discovered, err := parser.Parse(body, nil)
	if err != nil {
		return fmt.Errorf("input: parse %q as %s: %w", path, force, err)
	}
	for _, disc := range discovered {
		d.seed(disc.URL, "")
	}
	return nil
}

func (d *Driver) seed(rawURL, outputPath string) {
	if err := d.pool.DispatchSeed(rawURL, outputPath); err != nil {
		d.log.Error().Err(err).Str("url", rawURL).Msg("invalid seed url, skipped")
	}
}
