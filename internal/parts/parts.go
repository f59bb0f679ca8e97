// Package parts implements the Part Scheduler of spec.md §4.6: splitting a
// Metalink or oversized response into PART jobs, round-robin mirror
// assignment with per-part retry rotation, positioned writes to a shared
// destination file, and whole-file hash verification once every part is
// done.
//
// Grounded on original_source/libwget/metalink.c (piece list construction,
// mirror priority ordering) for the splitting semantics, and on the
// teacher's internal/downloaders/http multi-connection download path
// (chunked byte-range GETs against one file) for the worker-side mechanics
// — generalized from single-origin chunking to multi-mirror dispatch.
package parts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tanq16/danzo-crawl/internal/types"
)

// BuildSyntheticMetalink constructs a single-mirror Metalink for a plain
// chunked download: one origin URL, fixed-size pieces covering
// [0, totalSize) with no hashes (no integrity check is possible without a
// real Metalink document).
func BuildSyntheticMetalink(originURL string, totalSize, chunkSize int64, fileName string) *types.Metalink {
	if chunkSize <= 0 {
		chunkSize = totalSize
	}
	var pieces []types.Piece
	pos := int64(0)
	for pos < totalSize {
		length := chunkSize
		if pos+length > totalSize {
			length = totalSize - pos
		}
		pieces = append(pieces, types.Piece{Position: pos, Length: length})
		pos += length
	}
	return &types.Metalink{
		TotalSize: totalSize,
		FileName:  fileName,
		Pieces:    pieces,
		Mirrors:   []types.Mirror{{Priority: 0, URL: originURL}},
	}
}

// BuildParts allocates one types.Part per Piece of ml, all initially not
// done and not in use.
func BuildParts(ml *types.Metalink) []*types.Part {
	parts := make([]*types.Part, len(ml.Pieces))
	for i, p := range ml.Pieces {
		parts[i] = &types.Part{ID: i, Position: p.Position, Length: p.Length}
	}
	return parts
}

// MirrorForAttempt returns the mirror a worker should use for part on a
// given retry attempt, per spec.md §4.6: "worker-id mod mirror-count, then
// incremented on each retry; up to mirror-count attempts per part."
func MirrorForAttempt(mirrors []types.Mirror, workerID, attempt int) (types.Mirror, bool) {
	if len(mirrors) == 0 {
		return types.Mirror{}, false
	}
	if attempt >= len(mirrors) {
		return types.Mirror{}, false
	}
	idx := (workerID + attempt) % len(mirrors)
	return mirrors[idx], true
}

// WriteAt writes data for a part at its byte position into dst, satisfying
// the concurrency invariant that concurrent part writes never overlap
// (pieces are disjoint by construction).
func WriteAt(dst *os.File, part *types.Part, data []byte) error {
	if int64(len(data)) != part.Length {
		return fmt.Errorf("parts: part %d expected %d bytes, got %d", part.ID, part.Length, len(data))
	}
	n, err := dst.WriteAt(data, part.Position)
	if err != nil {
		return err
	}
	if int64(n) != part.Length {
		return fmt.Errorf("parts: short write for part %d: wrote %d of %d", part.ID, n, part.Length)
	}
	return nil
}

// VerifyCoverage checks the spec.md §8 invariant that a Metalink job's
// parts cover [0, TotalSize) exactly once with no gap or overlap. It does
// not touch the file; it is a pure check over the Part set, intended to
// run once AllPartsDone is true.
func VerifyCoverage(parts []*types.Part, totalSize int64) error {
	sorted := append([]*types.Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	pos := int64(0)
	for _, p := range sorted {
		if p.Position != pos {
			return fmt.Errorf("parts: gap or overlap at offset %d, part starts at %d", pos, p.Position)
		}
		pos += p.Length
	}
	if pos != totalSize {
		return fmt.Errorf("parts: coverage ends at %d, expected %d", pos, totalSize)
	}
	return nil
}

// VerifyHash recomputes a hash over the complete file at path and compares
// it against want, which is algorithm-prefixed as "sha-256:<hex>" (the
// only algorithm this Metalink subset supports; matching
// original_source/libwget/metalink.c's hash list, other algorithms are
// accepted but unverified).
func VerifyHash(path, want string) error {
	if want == "" {
		return nil
	}
	parts := strings.SplitN(want, ":", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "sha-256") {
		return nil // unsupported algorithm: treat as unverifiable, not a failure
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, parts[1]) {
		return fmt.Errorf("parts: hash mismatch: want %s got %s", parts[1], got)
	}
	return nil
}
