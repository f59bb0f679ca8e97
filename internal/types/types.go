// Package types holds the coordinator's shared data model: Job, Part,
// Metalink, Mirror and Host, generalized from the teacher's
// DownloadConfig/DownloadChunk/DownloadJob (internal/utils/types.go) to the
// recursive, multi-host shape spec.md §3 requires.
package types

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// JobState is the three-way lifecycle of a Job: exactly one of these holds
// at any instant (spec.md §3 invariant).
type JobState int

const (
	StateQueued JobState = iota
	StateInFlight
	StateDone
)

// Piece is one byte range of a Metalink/chunked file.
type Piece struct {
	Position int64
	Length   int64
	Hash     string // optional, algorithm-prefixed e.g. "sha-256:abcd..."
}

// Mirror is one interchangeable origin for a Metalink file.
type Mirror struct {
	Priority int // ascending priority order: lower value = preferred
	URL      string
	Location string
}

// Metalink is the parsed descriptor driving the Part Scheduler.
type Metalink struct {
	TotalSize int64
	FileName  string
	Pieces    []Piece
	Mirrors   []Mirror // sorted ascending by Priority at parse time
}

// Part is a single byte-range download unit belonging to a Job with a
// Metalink or chunk plan. Two parts of the same job never overlap; together
// they cover [0, TotalSize).
type Part struct {
	ID        int
	Position  int64
	Length    int64
	Done      bool
	InUse     bool
	MirrorIdx int // unused; the mirror for an attempt is derived from the PART job's Retries
}

// Job is one unit of coordinator work: a URL plus fetch context.
type Job struct {
	ID            uuid.UUID
	URL           *urlcanon.URL
	Referer       *urlcanon.URL
	RedirectDepth int
	RecursionLvl  int
	LocalFile     string
	HostKey       string // "host:port", looked up in the Host Registry

	Metalink *Metalink
	Parts    []*Part

	IsSitemap  bool
	IsRobots   bool
	IsRedirect bool
	Deferred   bool
	IsPart     bool // true when this job is a PART job carrying a single Piece
	PartIdx    int  // index into Parent.Parts when IsPart
	Retries    int  // transient-failure retry count, bounded by --tries

	HTTPSFallbackTried bool // set once an https->http fallback has been attempted, so it happens at most once per job

	Parent *Job // set for PART jobs, nil otherwise

	mu       sync.Mutex
	state    JobState
	hostSlot *Host // per-host fetch slot held between Dequeue and Complete/Requeue, if any
}

// NewJob allocates a Job in the Queued state.
func NewJob(u *urlcanon.URL, referer *urlcanon.URL, redirectDepth, recursionLvl int) *Job {
	host, port := u.HostPort()
	return &Job{
		ID:            uuid.New(),
		URL:           u,
		Referer:       referer,
		RedirectDepth: redirectDepth,
		RecursionLvl:  recursionLvl,
		HostKey:       host + ":" + port,
		state:         StateQueued,
	}
}

// State returns the current lifecycle state under lock.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// SetState transitions the job's lifecycle state.
func (j *Job) SetState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// SetHostSlot records the per-host fetch slot job holds, claimed by
// hostregistry.Registry.TryAcquireFetchSlot at Dequeue time.
func (j *Job) SetHostSlot(h *Host) {
	j.mu.Lock()
	j.hostSlot = h
	j.mu.Unlock()
}

// TakeHostSlot clears and returns the fetch slot job holds, or nil if it
// never acquired one (PART and robots jobs never do).
func (j *Job) TakeHostSlot() *Host {
	j.mu.Lock()
	h := j.hostSlot
	j.hostSlot = nil
	j.mu.Unlock()
	return h
}

// AllPartsDone reports whether every part of a chunked/Metalink job finished.
// A job with no parts is trivially "all done" (it is a plain, unsplit job).
func (j *Job) AllPartsDone() bool {
	for _, p := range j.Parts {
		if !p.Done {
			return false
		}
	}
	return true
}

// Host is per-host coordinator state: scheme/port identity, robots policy,
// failure bookkeeping and the per-host FIFO of pending jobs.
type Host struct {
	Scheme string
	Name   string
	Port   string

	mu          sync.Mutex
	robotsKnown bool
	robotsCheck RobotsChecker
	robotsJobID *uuid.UUID // non-owning reference to the in-flight robots.txt job, if any

	pending []*Job // host FIFO

	consecutiveFailures int
	blocked             bool
	earliestRetry       time.Time

	inFlight int // plain (non-PART) fetches currently dispatched to this host
}

// NewHost creates a Host record for scheme/name/port. Hosts live for the
// life of the process once created (spec.md §3 lifecycle).
func NewHost(scheme, name, port string) *Host {
	return &Host{Scheme: scheme, Name: name, Port: port}
}

// Key is the Host Registry lookup key.
func (h *Host) Key() string {
	return h.Name + ":" + h.Port
}

func (h *Host) Blocked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blocked
}

func (h *Host) Block() {
	h.mu.Lock()
	h.blocked = true
	h.mu.Unlock()
}

// RecordFailure increments the consecutive-failure counter and, once it
// crosses threshold, advances EarliestRetry by an exponential backoff.
func (h *Host) RecordFailure(threshold int, base time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	if h.consecutiveFailures >= threshold {
		shift := h.consecutiveFailures - threshold
		if shift > 10 {
			shift = 10 // avoid absurd durations / overflow
		}
		backoff := base << shift
		h.earliestRetry = now.Add(backoff)
	}
}

// RecordSuccess resets the failure counter (spec.md §4.2).
func (h *Host) RecordSuccess() {
	h.mu.Lock()
	h.consecutiveFailures = 0
	h.earliestRetry = time.Time{}
	h.mu.Unlock()
}

// ReadyAt returns the earliest time this host may be dispatched again.
func (h *Host) ReadyAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.earliestRetry
}

// TryAcquire claims one in-flight fetch slot if fewer than limit are
// currently held, reporting whether it succeeded.
func (h *Host) TryAcquire(limit int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight >= limit {
		return false
	}
	h.inFlight++
	return true
}

// Release returns one in-flight fetch slot claimed by TryAcquire.
func (h *Host) Release() {
	h.mu.Lock()
	if h.inFlight > 0 {
		h.inFlight--
	}
	h.mu.Unlock()
}

// SetRobotsJobID records the in-flight robots.txt job for this host so
// every other job can be deferred behind it (spec.md §4.2). Host owns the
// job ID, never the Job itself — avoids the owning-cycle risk called out in
// spec.md §9.
func (h *Host) SetRobotsJobID(id uuid.UUID) {
	h.mu.Lock()
	h.robotsJobID = &id
	h.mu.Unlock()
}

func (h *Host) RobotsJobPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.robotsJobID != nil && !h.robotsKnown
}

// RobotsChecker answers whether a path is permitted; satisfied by
// *robotstxt.Group from github.com/temoto/robotstxt.
type RobotsChecker interface {
	Test(path string) bool
}

// SetRobotsPolicy records the parsed robots.txt result (or "allow all" for
// a 404 / unparseable body / missing group, per spec.md §4.2) and releases
// any jobs deferred behind it. A nil checker means "allow everything."
func (h *Host) SetRobotsPolicy(checker RobotsChecker) {
	h.mu.Lock()
	h.robotsKnown = true
	h.robotsCheck = checker
	h.mu.Unlock()
}

// Allowed reports whether path is permitted by the current robots policy.
// Before the policy is known, everything is provisionally allowed — the
// robots.txt fetch itself gates dispatch *order*, not permission.
func (h *Host) Allowed(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.robotsKnown || h.robotsCheck == nil {
		return true
	}
	return h.robotsCheck.Test(path)
}
