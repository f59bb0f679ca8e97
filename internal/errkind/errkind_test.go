package errkind

import "testing"

func TestExitStatusNoErrors(t *testing.T) {
	if got := ExitStatus(nil); got != 0 {
		t.Fatalf("expected 0 for no errors, got %d", got)
	}
}

func TestExitStatusLowestWins(t *testing.T) {
	kinds := map[Kind]bool{
		KindHTTPNotFound: true, // 8
		KindDNS:          true, // 4
		KindIO:           true, // 3
	}
	if got := ExitStatus(kinds); got != 3 {
		t.Fatalf("expected lowest non-zero code 3, got %d", got)
	}
}

func TestExitStatusSingleKind(t *testing.T) {
	if got := ExitStatus(map[Kind]bool{KindTLS: true}); got != 5 {
		t.Fatalf("expected 5 for TLS error, got %d", got)
	}
}

func TestRetryableKinds(t *testing.T) {
	if !KindConnect.Retryable() {
		t.Fatal("connect errors should be retryable")
	}
	if KindHTTPNotFound.Retryable() {
		t.Fatal("404 should not be retryable")
	}
}

func TestErrorWrapping(t *testing.T) {
	e := New(KindDNS, "http://example.com", nil)
	if e.Kind.String() != "dns" {
		t.Fatalf("unexpected kind string: %s", e.Kind)
	}
}
