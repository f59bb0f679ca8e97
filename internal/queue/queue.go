// Package queue implements the Job Queue of spec.md §4.4: a global queue of
// pending jobs segmented by host, with pop-by-availability semantics (host
// not rate-limited, not blocked, robots-satisfied) and the shutdown
// predicate used by the Main Controller.
//
// Grounded on the teacher's worker-pool orchestration in
// internal/downloader.go (BatchDownload), generalized from a single
// pre-filled, pre-closed channel to a live queue continuously fed by
// recursion, using the coordinator mutex + two condition variables
// prescribed by spec.md §5.
package queue

import (
	"sync"
	"time"

	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/types"
)

// Queue is the coordinator's single source of dispatchable work.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond // work-available: signalled on Enqueue and on Close

	hosts    *hostregistry.Registry
	perHost  map[string][]*types.Job
	hostList []string // insertion order, the order popReadyLocked scans in

	inFlight  int
	closed    bool // input driver closed, no more seeds/recursion will arrive
	completed *sync.Cond // work-completed: signalled on Complete
}

// New returns an empty Queue backed by the given Host Registry.
func New(hosts *hostregistry.Registry) *Queue {
	q := &Queue{
		hosts:   hosts,
		perHost: make(map[string][]*types.Job),
	}
	q.cond = sync.NewCond(&q.mu)
	q.completed = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds job to its host's FIFO and wakes any worker waiting on
// work-available.
func (q *Queue) Enqueue(job *types.Job) {
	q.mu.Lock()
	if _, ok := q.perHost[job.HostKey]; !ok {
		q.hostList = append(q.hostList, job.HostKey)
	}
	q.perHost[job.HostKey] = append(q.perHost[job.HostKey], job)
	job.SetState(types.StateQueued)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close marks the input driver as finished; no further seeds will arrive.
// Combined with Empty(), this is the shutdown signal for idle workers.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Dequeue blocks until a job is ready, the queue is empty and closed (in
// which case ok is false, meaning "exit"), or waitUntil indicates the
// caller should sleep and retry (no host is ready right now, but the queue
// isn't done).
func (q *Queue) Dequeue(now func() time.Time) (job *types.Job, waitUntil time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if j, wait, found := q.popReadyLocked(now()); found {
			j.SetState(types.StateInFlight)
			q.inFlight++
			return j, time.Time{}, true
		} else if !wait.IsZero() {
			return nil, wait, true
		}
		if q.closed && q.totalPendingLocked() == 0 && q.inFlight == 0 {
			return nil, time.Time{}, false
		}
		q.cond.Wait()
	}
}

// popReadyLocked scans hosts in first-seen order, always starting from the
// first host, for the first whose robots prerequisite is satisfied and whose
// earliest-retry has passed. It must be called with q.mu held.
func (q *Queue) popReadyLocked(now time.Time) (*types.Job, time.Time, bool) {
	var earliestWait time.Time
	anyPending := false

	for _, hostKey := range q.hostList {
		jobs := q.perHost[hostKey]
		if len(jobs) == 0 {
			continue
		}
		anyPending = true

		host, ok := q.hosts.Get(hostKey)
		if !ok {
			// Job predates the host record somehow; dispatch defensively.
			job := jobs[0]
			q.perHost[hostKey] = jobs[1:]
			return job, time.Time{}, true
		}
		if host.Blocked() {
			// A blocked host never dispatches again: its pending jobs are
			// dropped so they do not hold the queue open forever.
			for _, j := range jobs {
				j.SetState(types.StateDone)
			}
			q.perHost[hostKey] = nil
			continue
		}
		readyAt := host.ReadyAt()
		if !readyAt.IsZero() && readyAt.After(now) {
			if earliestWait.IsZero() || readyAt.Before(earliestWait) {
				earliestWait = readyAt
			}
			continue
		}

		// Robots prerequisite: the first job dispatched for a host must be
		// its robots.txt fetch; everything else waits.
		if host.RobotsJobPending() {
			// Find the robots job if it's in this host's FIFO and let it
			// through; otherwise this host stalls until it completes.
			idx := -1
			for i, j := range jobs {
				if j.IsRobots {
					idx = i
					break
				}
			}
			if idx == -1 {
				continue
			}
			job := jobs[idx]
			q.perHost[hostKey] = append(append([]*types.Job{}, jobs[:idx]...), jobs[idx+1:]...)
			return job, time.Time{}, true
		}

		// Per-host in-flight cap (spec.md §8: concurrent connections to a
		// single host <= per-host-limit, default 1). PART jobs are exempt
		// (spec.md §4.6 needs a Metalink/chunked file's pieces dispatched
		// in parallel); a plain job must acquire the host's fetch slot
		// before it can be dispatched, so scan for the first job that's
		// either a PART or can actually acquire one.
		idx := -1
		for i, j := range jobs {
			if j.IsPart {
				idx = i
				break
			}
			if q.hosts.TryAcquireFetchSlot(host) {
				j.SetHostSlot(host)
				idx = i
				break
			}
		}
		if idx == -1 {
			// Host saturated; every pending job needs the slot a worker
			// currently holds. Move on — Complete()/Requeue() releasing it
			// will Broadcast and wake this loop again.
			continue
		}
		job := jobs[idx]
		q.perHost[hostKey] = append(append([]*types.Job{}, jobs[:idx]...), jobs[idx+1:]...)
		return job, time.Time{}, true
	}
	if !anyPending {
		return nil, time.Time{}, false
	}
	return nil, earliestWait, false
}

func (q *Queue) totalPendingLocked() int {
	total := 0
	for _, jobs := range q.perHost {
		total += len(jobs)
	}
	return total
}

// Complete returns job to the "done" state, decrements in-flight, and wakes
// anyone waiting on work-completed and work-available (a completed job may
// have freed up a host slot, or the queue may now be empty).
func (q *Queue) Complete(job *types.Job) {
	q.mu.Lock()
	job.SetState(types.StateDone)
	q.inFlight--
	q.mu.Unlock()
	q.releaseHostSlot(job)
	q.completed.Broadcast()
	q.cond.Broadcast()
}

// releaseHostSlot frees the per-host fetch slot job acquired at Dequeue
// time, if any (PART/robots jobs never acquire one). Releasing whatever
// job.TakeHostSlot returns — rather than re-deriving the host from the
// job's current HostKey — stays correct even when a job's host changes
// mid-flight, as the --https-enforce HTTPS-to-HTTP fallback does.
func (q *Queue) releaseHostSlot(job *types.Job) {
	if h := job.TakeHostSlot(); h != nil {
		q.hosts.ReleaseFetchSlot(h)
	}
}

// Requeue puts job back at the front of its host's FIFO (used for
// transient-failure retries). It takes the job out of the in-flight count
// and releases its host slot itself, so the caller does not also call
// Complete for it.
func (q *Queue) Requeue(job *types.Job) {
	q.mu.Lock()
	job.SetState(types.StateQueued)
	q.inFlight--
	if _, ok := q.perHost[job.HostKey]; !ok {
		q.hostList = append(q.hostList, job.HostKey)
	}
	q.perHost[job.HostKey] = append([]*types.Job{job}, q.perHost[job.HostKey]...)
	q.mu.Unlock()
	q.releaseHostSlot(job)
	q.cond.Broadcast()
}

// Empty reports whether no job is pending and no worker is in-flight — the
// shutdown condition used by the Main Controller (spec.md §4.4).
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalPendingLocked() == 0 && q.inFlight == 0
}

// Size returns the total number of pending jobs across all hosts.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalPendingLocked()
}

// WaitCompleted blocks until at least one Complete() call has happened
// since this call started; nothing else wakes it. Used by the
// Main Controller's wake-to-check loop (spec.md §4.8).
func (q *Queue) WaitCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed.Wait()
}

// Broadcast wakes every goroutine blocked in Dequeue — used when a host's
// robots.txt policy becomes known, so jobs deferred behind it are
// reconsidered immediately.
func (q *Queue) Broadcast() {
	q.cond.Broadcast()
}
