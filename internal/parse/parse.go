// Package parse implements the external Parsers of spec.md §4.5 bullet 7:
// content-type-dispatched extraction of discovered URLs from a fetched
// body. Each parser is intentionally minimal — thorough grammar handling
// (e.g. a full CSS parser) is out of scope, matching spec.md's framing of
// parsers as external collaborators specified only at their interface.
package parse

import (
	"strings"

	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// Discovered is one URL found inside a parsed body.
type Discovered struct {
	URL string

	// Requisite marks an inline resource (img/src, link rel=stylesheet,
	// script src) as opposed to a navigational href — needed to apply
	// recursion rule (g): at max depth, only requisites are followed.
	Requisite bool
}

// Parser extracts links from a fetched response body.
type Parser interface {
	Parse(body []byte, base *urlcanon.URL) ([]Discovered, error)
}

// ForContentType returns the Parser registered for a MIME type, or nil if
// none applies (the Fetch Pipeline then saves the body with no recursion).
func ForContentType(contentType string) Parser {
	switch mimeOnly(contentType) {
	case "text/html", "application/xhtml+xml":
		return HTMLParser{}
	case "application/xml", "text/xml":
		return SitemapParser{}
	case "application/gzip", "application/x-gzip":
		return GzipSitemapParser{}
	case "text/plain":
		return PlainSitemapParser{}
	case "application/metalink+xml", "application/metalink4+xml":
		return MetalinkParser{}
	case "text/css":
		return CSSParser{}
	default:
		return nil
	}
}

func mimeOnly(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i != -1 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}
