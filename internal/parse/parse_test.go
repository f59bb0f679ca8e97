package parse

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

func mustBase(t *testing.T) *urlcanon.URL {
	t.Helper()
	u, err := urlcanon.Parse("http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestHTMLParserDistinguishesRequisites(t *testing.T) {
	body := []byte(`<html><body><a href="/page">link</a><img src="/pic.png"></body></html>`)
	out, err := HTMLParser{}.Parse(body, mustBase(t))
	if err != nil {
		t.Fatal(err)
	}
	var sawNav, sawReq bool
	for _, d := range out {
		if d.URL == "/page" && !d.Requisite {
			sawNav = true
		}
		if d.URL == "/pic.png" && d.Requisite {
			sawReq = true
		}
	}
	if !sawNav || !sawReq {
		t.Fatalf("expected one navigational and one requisite link, got %+v", out)
	}
}

func TestSitemapParser(t *testing.T) {
	body := []byte(`<?xml version="1.0"?><urlset><url><loc>http://example.com/a</loc></url><url><loc>http://example.com/b</loc></url></urlset>`)
	out, err := SitemapParser{}.Parse(body, mustBase(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
}

func TestGzipSitemapParser(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`<urlset><url><loc>http://example.com/z</loc></url></urlset>`))
	zw.Close()

	out, err := GzipSitemapParser{}.Parse(buf.Bytes(), mustBase(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].URL != "http://example.com/z" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestPlainSitemapParserSkipsCommentsAndBlanks(t *testing.T) {
	body := []byte("# comment\nhttp://example.com/a\n\nhttp://example.com/b\n")
	out, err := PlainSitemapParser{}.Parse(body, mustBase(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 URLs, got %d", len(out))
	}
}

func TestParseMetalinkPieceSplit(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<metalink>
  <file name="file.iso">
    <size>250</size>
    <pieces length="100" type="sha-256"></pieces>
    <url priority="1">http://mirror1.example/file.iso</url>
    <url priority="2">http://mirror2.example/file.iso</url>
  </file>
</metalink>`)
	ml, err := ParseMetalink(body)
	if err != nil {
		t.Fatal(err)
	}
	if ml.TotalSize != 250 {
		t.Fatalf("expected size 250, got %d", ml.TotalSize)
	}
	if len(ml.Pieces) != 3 {
		t.Fatalf("expected 3 pieces (100,100,50), got %d", len(ml.Pieces))
	}
	if ml.Pieces[2].Length != 50 {
		t.Fatalf("expected final piece length 50, got %d", ml.Pieces[2].Length)
	}
	if ml.Mirrors[0].URL != "http://mirror1.example/file.iso" {
		t.Fatalf("expected mirrors sorted by priority, got %+v", ml.Mirrors)
	}
}

func TestCSSParserReturnsNoDiscoveries(t *testing.T) {
	out, err := CSSParser{}.Parse([]byte(`body { background: url(x.png); }`), mustBase(t))
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected nil discoveries, got %+v", out)
	}
}
