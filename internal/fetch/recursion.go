package fetch

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/hostregistry"
	"github.com/tanq16/danzo-crawl/internal/parse"
	"github.com/tanq16/danzo-crawl/internal/types"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// DispatchSeed canonicalizes rawURL and, if it passes the blacklist,
// registers its host and enqueues it — the same bookkeeping
// maybeEnqueueDiscovered performs for a recursively discovered link, minus
// the recursion rules (a seed is always permitted regardless of
// span-hosts/no-parent/depth). The Input Driver calls this once per seed
// URL, per spec.md §4.7: "each seed passes through canonicalization,
// blacklist, and enqueue."
func (p *Pool) DispatchSeed(rawURL, outputPath string) error {
	target, err := urlcanon.Parse(rawURL, nil)
	if err != nil {
		return err
	}
	if !p.blacklist.TryInsert(target.Canonical()) {
		return nil
	}
	host, port := target.HostPort()
	p.hosts.GetOrCreate(target.Scheme, host, port)
	p.seeds.add(host, target.Path)
	job := types.NewJob(target, nil, 0, 0)
	job.LocalFile = outputPath
	p.queue.Enqueue(job)
	p.maybeDispatchRobots(job, host, port, target.Scheme)
	return nil
}

// maybeEnqueueDiscovered applies spec.md §4.5's recursion rules (a)-(g) to
// one discovered link and, if it passes every rule, canonicalizes,
// deduplicates against the blacklist, and enqueues it.
func (p *Pool) maybeEnqueueDiscovered(job *types.Job, d parse.Discovered) {
	if !p.cfg.Recursive {
		return // rule (a)
	}
	nextLevel := job.RecursionLvl + 1
	if nextLevel > p.cfg.MaxLevel {
		return // rule (b)
	}
	target, err := urlcanon.Parse(d.URL, job.URL)
	if err != nil {
		return
	}
	if p.cfg.HTTPSOnly && target.Scheme != "https" {
		return // rule (e)
	}
	host, port := target.HostPort()
	if !p.hostAllowed(host) {
		return // rule (c)
	}
	if p.cfg.NoParent && !p.withinParent(target) {
		return // rule (d)
	}
	if nextLevel == p.cfg.MaxLevel && p.cfg.PageRequisites && !d.Requisite {
		return // rule (g): at max depth, only inline requisites follow
	}

	if !p.blacklist.TryInsert(target.Canonical()) {
		return
	}
	p.hosts.GetOrCreate(target.Scheme, host, port)
	newJob := types.NewJob(target, job.URL, 0, nextLevel)
	p.queue.Enqueue(newJob)
	p.maybeDispatchRobots(newJob, host, port, target.Scheme)
}

// hostAllowed implements rule (c): span-hosts off restricts recursion to
// the seed hosts plus any explicit --domains includes, minus -D excludes.
func (p *Pool) hostAllowed(host string) bool {
	if len(p.cfg.ExcludeDomains) > 0 && p.cfg.ExcludeDomains[host] {
		return false
	}
	if p.cfg.SpanHosts {
		return true
	}
	if p.cfg.IncludeHosts != nil && p.cfg.IncludeHosts[host] {
		return true
	}
	return p.seeds.has(host)
}

// withinParent implements rule (d): the URL's path must start with the
// single path prefix seedSet records for its host's seed URLs.
func (p *Pool) withinParent(target *urlcanon.URL) bool {
	host, _ := target.HostPort()
	prefix, ok := p.seeds.prefixFor(host)
	if !ok || prefix == "" {
		return true // no recorded seed path for this host: permit, per spec.md §9
	}
	return strings.HasPrefix(target.Path, prefix)
}

// maybeDispatchRobots implements spec.md §4.2's robots prerequisite: the
// first job referencing a host also claims and enqueues that host's
// /robots.txt fetch, ahead of everything else via the Job Queue's
// robots-pending gate.
func (p *Pool) maybeDispatchRobots(triggering *types.Job, host, port, scheme string) {
	if !p.cfg.RobotsEnabled {
		return
	}
	h, _ := p.hosts.Get(host + ":" + port)
	if h == nil {
		return
	}
	robotsURL, err := urlcanon.Parse(scheme+"://"+host+":"+port+"/robots.txt", nil)
	if err != nil {
		return
	}
	if !p.blacklist.TryInsert(robotsURL.Canonical()) {
		return
	}
	robotsJob := types.NewJob(robotsURL, nil, 0, 0)
	robotsJob.IsRobots = true
	if p.hosts.ClaimRobotsSlot(h, robotsJob.ID) {
		p.queue.Enqueue(robotsJob)
	}
}

// finishRobots applies the fetched /robots.txt body to the host's policy
// and lets the queue release jobs deferred behind it.
func (p *Pool) finishRobots(job *types.Job, statusCode int, body []byte, logger zerolog.Logger) {
	host, port := job.URL.HostPort()
	h, ok := p.hosts.Get(host + ":" + port)
	if !ok {
		return
	}
	userAgent := p.cfg.UserAgent
	if userAgent == "" {
		userAgent = "danzo-crawl"
	}
	if err := hostregistry.ApplyRobotsResponse(h, statusCode, body, userAgent); err != nil {
		logger.Debug().Err(err).Str("host", host).Msg("failed to apply robots.txt")
	}
	p.queue.Broadcast()
}
