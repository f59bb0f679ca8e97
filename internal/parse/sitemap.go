package parse

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"strings"

	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// SitemapParser handles the standard XML sitemap / sitemap-index format
// (https://www.sitemaps.org/protocol.html): a flat list of <loc> URLs.
type SitemapParser struct{}

type sitemapURLSet struct {
	URLs    []sitemapEntry `xml:"url"`
	Sitemap []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

func (SitemapParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	out := make([]Discovered, 0, len(set.URLs)+len(set.Sitemap))
	for _, e := range set.URLs {
		if e.Loc != "" {
			out = append(out, Discovered{URL: e.Loc})
		}
	}
	for _, e := range set.Sitemap {
		if e.Loc != "" {
			out = append(out, Discovered{URL: e.Loc})
		}
	}
	return out, nil
}

// GzipSitemapParser decompresses a gzip-compressed sitemap body before
// delegating to SitemapParser, per spec.md §4.5 bullet 7.
type GzipSitemapParser struct{}

func (GzipSitemapParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, err
	}
	return SitemapParser{}.Parse(buf.Bytes(), base)
}

// PlainSitemapParser handles the line-based plain-text sitemap variant:
// one absolute URL per line, blank lines and "#" comments ignored.
type PlainSitemapParser struct{}

func (PlainSitemapParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	var out []Discovered
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, Discovered{URL: line})
	}
	return out, scanner.Err()
}

// CSSParser is a stub: discovering @import/url() references inside CSS is
// out of scope for this reimplementation, matching the teacher repo, which
// never touches CSS either.
type CSSParser struct{}

func (CSSParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	return nil, nil
}
