package parse

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// HTMLParser extracts href/src attributes from an HTML document, tagging
// each as requisite (img, script, link, source, iframe "src") or
// navigational (anchor "href") so the Fetch Pipeline can apply recursion
// rule (g) at the deepest recursion level.
type HTMLParser struct{}

var requisiteTags = map[atom.Atom]bool{
	atom.Img:    true,
	atom.Script: true,
	atom.Link:   true,
	atom.Source: true,
	atom.Iframe: true,
	atom.Embed:  true,
}

func (HTMLParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []Discovered
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			requisite := requisiteTags[n.DataAtom]
			attrName := "href"
			if requisite && n.DataAtom != atom.Link {
				attrName = "src"
			}
			for _, a := range n.Attr {
				if a.Key == attrName && a.Val != "" {
					out = append(out, Discovered{URL: a.Val, Requisite: requisite})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}
