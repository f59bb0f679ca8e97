package parts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/tanq16/danzo-crawl/internal/types"
)

func TestBuildSyntheticMetalinkCoversWholeFile(t *testing.T) {
	ml := BuildSyntheticMetalink("http://example.com/f", 250, 100, "f")
	if len(ml.Pieces) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(ml.Pieces))
	}
	parts := BuildParts(ml)
	if err := VerifyCoverage(parts, 250); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyCoverageDetectsGap(t *testing.T) {
	parts := []*types.Part{
		{ID: 0, Position: 0, Length: 50},
		{ID: 1, Position: 60, Length: 40}, // gap between 50 and 60
	}
	if err := VerifyCoverage(parts, 100); err == nil {
		t.Fatal("expected gap to be detected")
	}
}

func TestVerifyCoverageDetectsOverlap(t *testing.T) {
	parts := []*types.Part{
		{ID: 0, Position: 0, Length: 60},
		{ID: 1, Position: 50, Length: 50}, // overlaps [50,60)
	}
	if err := VerifyCoverage(parts, 100); err == nil {
		t.Fatal("expected overlap to be detected")
	}
}

func TestMirrorForAttemptRotates(t *testing.T) {
	mirrors := []types.Mirror{{URL: "m0"}, {URL: "m1"}, {URL: "m2"}}
	m0, ok := MirrorForAttempt(mirrors, 1, 0)
	if !ok || m0.URL != "m1" {
		t.Fatalf("expected m1 for worker 1 attempt 0, got %+v", m0)
	}
	m1, ok := MirrorForAttempt(mirrors, 1, 1)
	if !ok || m1.URL != "m2" {
		t.Fatalf("expected m2 for worker 1 attempt 1, got %+v", m1)
	}
	_, ok = MirrorForAttempt(mirrors, 1, 3)
	if ok {
		t.Fatal("expected exhaustion after mirror-count attempts")
	}
}

func TestWriteAtAndVerifyHash(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(dir + "/out.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data := []byte("hello world part data")
	part := &types.Part{ID: 0, Position: 0, Length: int64(len(data))}
	if err := WriteAt(f, part, data); err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(data)
	want := "sha-256:" + hex.EncodeToString(sum[:])
	if err := VerifyHash(dir+"/out.bin", want); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.bin"
	if err := os.WriteFile(path, []byte("actual content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyHash(path, "sha-256:deadbeef"); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}
