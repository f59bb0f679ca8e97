package parse

import (
	"encoding/xml"
	"sort"

	"github.com/tanq16/danzo-crawl/internal/types"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// MetalinkParser covers the RFC 5854-shaped Metalink3/4 XML subset of total
// size, filename, ordered pieces with optional hash, and a mirror list
// sorted by ascending priority.
type MetalinkParser struct{}

type metalinkFile struct {
	XMLName xml.Name        `xml:"metalink"`
	Files   []metalinkEntry `xml:"file"`
}

type metalinkEntry struct {
	Name    string          `xml:"name,attr"`
	Size    int64           `xml:"size"`
	Hash    []metalinkHash  `xml:"hash"`
	Pieces  metalinkPieces  `xml:"pieces"`
	Mirrors []metalinkURL   `xml:"url"`
}

type metalinkHash struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type metalinkPieces struct {
	Length int64          `xml:"length,attr"`
	Type   string         `xml:"type,attr"`
	Hashes []metalinkHash `xml:"hash"`
}

type metalinkURL struct {
	Priority int    `xml:"priority,attr"`
	Location string `xml:"location,attr"`
	Value    string `xml:",chardata"`
}

// ParseMetalink decodes body into a *types.Metalink. The Fetch Pipeline
// does not call it: a fetched Metalink document is saved like any other
// body and does not start a Part download.
func ParseMetalink(body []byte) (*types.Metalink, error) {
	var doc metalinkFile
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Files) == 0 {
		return &types.Metalink{}, nil
	}
	f := doc.Files[0]

	mirrors := make([]types.Mirror, 0, len(f.Mirrors))
	for _, m := range f.Mirrors {
		mirrors = append(mirrors, types.Mirror{
			Priority: m.Priority,
			URL:      m.Value,
			Location: m.Location,
		})
	}
	sort.Slice(mirrors, func(i, j int) bool { return mirrors[i].Priority < mirrors[j].Priority })

	var pieces []types.Piece
	pieceLen := f.Pieces.Length
	if pieceLen > 0 {
		remaining := f.Size
		pos := int64(0)
		for i := 0; remaining > 0; i++ {
			length := pieceLen
			if length > remaining {
				length = remaining
			}
			hash := ""
			if i < len(f.Pieces.Hashes) {
				hash = f.Pieces.Hashes[i].Type + ":" + f.Pieces.Hashes[i].Value
			}
			pieces = append(pieces, types.Piece{Position: pos, Length: length, Hash: hash})
			pos += length
			remaining -= length
		}
	}

	return &types.Metalink{
		TotalSize: f.Size,
		FileName:  f.Name,
		Pieces:    pieces,
		Mirrors:   mirrors,
	}, nil
}

// Parse satisfies the Parser interface by returning no link discoveries —
// Metalink documents are not recursed into like HTML/sitemap bodies.
func (MetalinkParser) Parse(body []byte, base *urlcanon.URL) ([]Discovered, error) {
	return nil, nil
}
