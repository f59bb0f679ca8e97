package stats

import (
	"testing"

	"github.com/tanq16/danzo-crawl/internal/errkind"
)

func TestCountersAccumulate(t *testing.T) {
	c := &Counters{}
	c.JobStarted("http://a")
	c.JobSucceeded("http://a", 100)
	c.JobFailed("http://b", errkind.KindDNS)
	c.Discovered(3)

	s := c.Snapshot()
	if s.Started != 1 || s.Succeeded != 1 || s.Failed != 1 || s.Bytes != 100 || s.Discovered != 3 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestErrorLogCapsAtCapacity(t *testing.T) {
	log := newErrorLog(2)
	log.add("http://a", errkind.KindDNS)
	log.add("http://b", errkind.KindTimeout)
	log.add("http://c", errkind.KindIO)
	got := log.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected capped length 2, got %d", len(got))
	}
	if got[0].url != "http://b" || got[1].url != "http://c" {
		t.Fatalf("expected the two most recent entries, got %+v", got)
	}
}

func TestNoopSinkDoesNotPanic(t *testing.T) {
	var n Noop
	n.JobStarted("x")
	n.JobSucceeded("x", 1)
	n.JobFailed("x", errkind.KindIO)
	n.Discovered(1)
	n.Close()
}
