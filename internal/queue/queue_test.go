package queue

import (
	"testing"
	"time"

	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/types"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

func newJob(t *testing.T, raw string) *types.Job {
	t.Helper()
	u, err := urlcanon.Parse(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewJob(u, nil, 0, 0)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	j1 := newJob(t, "http://example.com/a")
	j2 := newJob(t, "http://example.com/b")
	hosts.GetOrCreate("http", "example.com", "80")
	q.Enqueue(j1)
	q.Enqueue(j2)

	got, _, ok := q.Dequeue(time.Now)
	if !ok || got != j1 {
		t.Fatalf("expected j1 first, got %v ok=%v", got, ok)
	}
	// The per-host in-flight cap (default 1) holds j2 back until j1's slot is
	// released — a single host only ever has one plain fetch dispatched at a
	// time (spec.md §8), so j1 must Complete before j2 can dequeue.
	q.Complete(j1)
	got2, _, ok := q.Dequeue(time.Now)
	if !ok || got2 != j2 {
		t.Fatalf("expected j2 second, got %v ok=%v", got2, ok)
	}
}

// TestPerHostCapSerializesDequeue is the queue-level complement of
// TestEnqueueDequeueFIFO: it asserts the cap directly rather than as a side
// effect of FIFO ordering — two jobs queued for the same host, only one
// dispatchable until the first Completes.
func TestPerHostCapSerializesDequeue(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	hosts.GetOrCreate("http", "example.com", "80")
	j1 := newJob(t, "http://example.com/a")
	j2 := newJob(t, "http://example.com/b")
	q.Enqueue(j1)
	q.Enqueue(j2)

	got, _, ok := q.Dequeue(time.Now)
	if !ok || got != j1 {
		t.Fatalf("expected j1 dispatched first, got %v ok=%v", got, ok)
	}

	done := make(chan *types.Job, 1)
	go func() {
		got2, _, ok := q.Dequeue(time.Now)
		if !ok {
			done <- nil
			return
		}
		done <- got2
	}()

	select {
	case <-done:
		t.Fatal("expected j2 to stay blocked while j1 holds the host's only fetch slot")
	case <-time.After(50 * time.Millisecond):
	}

	q.Complete(j1)

	select {
	case got2 := <-done:
		if got2 != j2 {
			t.Fatalf("expected j2 once j1's slot was released, got %v", got2)
		}
	case <-time.After(time.Second):
		t.Fatal("expected j2 to dequeue after Complete(j1) released the host's fetch slot")
	}
}

// TestPerHostCapExemptsPartJobs ensures PART jobs (spec.md §4.6's parallel
// Metalink/chunked piece fetches) bypass the per-host cap entirely.
func TestPerHostCapExemptsPartJobs(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	hosts.GetOrCreate("http", "example.com", "80")
	p1 := newJob(t, "http://example.com/a")
	p1.IsPart = true
	p2 := newJob(t, "http://example.com/a")
	p2.IsPart = true
	q.Enqueue(p1)
	q.Enqueue(p2)

	got1, _, ok := q.Dequeue(time.Now)
	if !ok || got1 != p1 {
		t.Fatalf("expected p1 first, got %v ok=%v", got1, ok)
	}
	got2, _, ok := q.Dequeue(time.Now)
	if !ok || got2 != p2 {
		t.Fatalf("expected p2 dispatchable without waiting on p1, got %v ok=%v", got2, ok)
	}
}

func TestDequeueExitsWhenClosedAndEmpty(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	q.Close()
	_, _, ok := q.Dequeue(time.Now)
	if ok {
		t.Fatal("expected Dequeue to signal exit on closed+empty queue")
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	hosts.GetOrCreate("http", "example.com", "80")
	j := newJob(t, "http://example.com/a")

	done := make(chan *types.Job, 1)
	go func() {
		got, _, ok := q.Dequeue(time.Now)
		if !ok {
			done <- nil
			return
		}
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(j)

	select {
	case got := <-done:
		if got != j {
			t.Fatalf("expected enqueued job, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue never returned after Enqueue")
	}
}

func TestBlockedHostSkipped(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	h := hosts.GetOrCreate("http", "blocked.example", "80")
	h.Block()
	j := newJob(t, "http://blocked.example/a")
	q.Enqueue(j)
	q.Close()

	_, _, ok := q.Dequeue(time.Now)
	if ok {
		t.Fatal("expected no dispatchable job from a blocked host")
	}
}

func TestRobotsPendingGatesNonRobotsJobs(t *testing.T) {
	hosts := hostregistry.New(true)
	q := New(hosts)
	h := hosts.GetOrCreate("http", "example.com", "80")

	page := newJob(t, "http://example.com/page")
	robotsJob := newJob(t, "http://example.com/robots.txt")
	robotsJob.IsRobots = true

	q.Enqueue(page)
	hosts.ClaimRobotsSlot(h, robotsJob.ID)
	q.Enqueue(robotsJob)

	got, _, ok := q.Dequeue(time.Now)
	if !ok || !got.IsRobots {
		t.Fatalf("expected robots job to be dispatched first, got %v ok=%v", got, ok)
	}
}

func TestCompleteUnblocksEmpty(t *testing.T) {
	hosts := hostregistry.New(false)
	q := New(hosts)
	hosts.GetOrCreate("http", "example.com", "80")
	j := newJob(t, "http://example.com/a")
	q.Enqueue(j)

	got, _, ok := q.Dequeue(time.Now)
	if !ok || got != j {
		t.Fatal("expected to dequeue the job")
	}
	if q.Empty() {
		t.Fatal("queue should not be empty while job is in-flight")
	}
	q.Complete(j)
	if !q.Empty() {
		t.Fatal("queue should be empty once the in-flight job completes")
	}
}
