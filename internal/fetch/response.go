package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/errkind"
	"github.com/tanq16/danzo-crawl/internal/parse"
	"github.com/tanq16/danzo-crawl/internal/parts"
	"github.com/tanq16/danzo-crawl/internal/types"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// handleResponse implements spec.md §4.5 step 5: classify the response by
// status code and act accordingly.
func (p *Pool) handleResponse(ctx context.Context, job *types.Job, host *types.Host, resp *http.Response, logger zerolog.Logger) {
	if job.IsRobots && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// A missing robots.txt still completes the host's robots prerequisite.
		p.finishRobots(job, resp.StatusCode, nil, logger)
		return
	}
	switch {
	case resp.StatusCode == http.StatusNotModified:
		logger.Debug().Str("url", job.URL.String()).Msg("not modified")
		p.reparseLocalForRecursion(job, logger)
		return

	case resp.StatusCode == http.StatusUnauthorized:
		p.handleAuthChallenge(ctx, job, host, resp, logger)
		return

	case resp.StatusCode == http.StatusNotFound:
		p.fail(job, errkind.KindHTTPNotFound, errStatus(resp), logger)
		return

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		p.handleRedirect(job, resp, logger)
		return

	case resp.StatusCode == http.StatusPartialContent:
		p.handlePartialContent(job, resp, logger)
		return

	case resp.StatusCode >= 500:
		p.hosts.RecordFailure(host)
		p.retryOrFail(job, errkind.KindHTTPServerError, errStatus(resp), logger)
		return

	case resp.StatusCode == http.StatusForbidden:
		p.fail(job, errkind.KindHTTPAuth, errStatus(resp), logger)
		return

	case resp.StatusCode >= 400:
		p.fail(job, errkind.KindHTTPClientError, errStatus(resp), logger)
		return

	case resp.StatusCode >= 200:
		p.handleSuccess(job, resp, logger)
		return
	}
}

func errStatus(resp *http.Response) error {
	return &statusError{code: resp.StatusCode, status: resp.Status}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return e.status }

// handleSuccess saves the body, checks for Metalink discovery headers, and
// dispatches the body to a content-type parser for recursion.
func (p *Pool) handleSuccess(job *types.Job, resp *http.Response, logger zerolog.Logger) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}

	if metalinkURL, ok := metalinkFromLinkHeader(resp.Header); ok {
		p.enqueueMetalinkDiscovery(job, metalinkURL, logger)
		return
	}

	if job.IsRobots {
		p.finishRobots(job, resp.StatusCode, body, logger)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentLen := resp.ContentLength; p.cfg.ChunkSize > 0 && contentLen > p.cfg.ChunkSize && !job.IsPart {
		p.startChunkedDownload(job, contentLen, logger)
		return
	}

	path := p.localPath(job)
	if err := p.saveBody(path, body, job); err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	p.bytesRead.add(int64(len(body)))
	p.sink.JobSucceeded(job.URL.String(), int64(len(body)))

	if !p.cfg.Recursive {
		return
	}
	parser := parse.ForContentType(contentType)
	if parser == nil {
		return
	}
	discovered, err := parser.Parse(body, job.URL)
	if err != nil {
		logger.Debug().Err(err).Str("url", job.URL.String()).Msg("parse error, body still saved")
		return
	}
	p.sink.Discovered(len(discovered))
	for _, d := range discovered {
		p.maybeEnqueueDiscovered(job, d)
	}
}

func (p *Pool) reparseLocalForRecursion(job *types.Job, logger zerolog.Logger) {
	if !p.cfg.Recursive {
		return
	}
	path := p.localPath(job)
	body, err := os.ReadFile(path)
	if err != nil {
		return
	}
	parser := parse.ForContentType("text/html")
	discovered, err := parser.Parse(body, job.URL)
	if err != nil {
		return
	}
	for _, d := range discovered {
		p.maybeEnqueueDiscovered(job, d)
	}
}

func (p *Pool) saveBody(path string, body []byte, job *types.Job) error {
	if p.cfg.NoClobber {
		if _, err := os.Stat(path); err == nil {
			path = disambiguate(path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func (p *Pool) handleRedirect(job *types.Job, resp *http.Response, logger zerolog.Logger) {
	if job.RedirectDepth >= p.cfg.MaxRedirects {
		p.fail(job, errkind.KindTooManyRedirects, errStatus(resp), logger)
		return
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		p.fail(job, errkind.KindTooManyRedirects, errStatus(resp), logger)
		return
	}
	target, err := urlcanon.Parse(loc, job.URL)
	if err != nil {
		p.fail(job, errkind.KindParse, err, logger)
		return
	}
	if target.Canonical() == job.URL.Canonical() {
		// A → A is a degenerate loop of length 1; spec.md calls for
		// detecting "the same canonical URL seen twice in one chain".
		p.fail(job, errkind.KindTooManyRedirects, errStatus(resp), logger)
		return
	}
	if !p.blacklist.TryInsert(target.Canonical()) {
		if job.IsRedirect {
			p.fail(job, errkind.KindTooManyRedirects, fmt.Errorf("redirect loop at %s", target.Canonical()), logger)
		}
		return
	}
	redirectJob := types.NewJob(target, job.URL, job.RedirectDepth+1, job.RecursionLvl)
	redirectJob.IsRedirect = true
	p.registerHost(target)
	p.queue.Enqueue(redirectJob)
}

func (p *Pool) handlePartialContent(job *types.Job, resp *http.Response, logger zerolog.Logger) {
	if p.cfg.Continue {
		p.appendPartialContent(job, resp, logger)
		return
	}
	// Not resuming a full file: a bare 206 outside of Part-job flow is
	// handed to the Part Scheduler as a single-piece synthetic job.
	p.startChunkedDownload(job, resp.ContentLength, logger)
}

func (p *Pool) appendPartialContent(job *types.Job, resp *http.Response, logger zerolog.Logger) {
	path := p.localPath(job)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	p.bytesRead.add(n)
	p.sink.JobSucceeded(job.URL.String(), n)
}

// metalinkFromLinkHeader implements spec.md §4.5 step 6: RFC 6249 Link
// headers advertising a describedby Metalink document, preferring it over
// falling through to the ordinary parser dispatch.
func metalinkFromLinkHeader(h http.Header) (string, bool) {
	for _, v := range h.Values("Link") {
		for _, link := range strings.Split(v, ",") {
			if !strings.Contains(link, `rel="describedby"`) {
				continue
			}
			if !strings.Contains(link, "application/metalink") {
				continue
			}
			start := strings.Index(link, "<")
			end := strings.Index(link, ">")
			if start == -1 || end == -1 || end <= start {
				continue
			}
			return link[start+1 : end], true
		}
	}
	return "", false
}

func (p *Pool) enqueueMetalinkDiscovery(job *types.Job, rawURL string, logger zerolog.Logger) {
	u, err := urlcanon.Parse(rawURL, job.URL)
	if err != nil {
		p.fail(job, errkind.KindParse, err, logger)
		return
	}
	if !p.blacklist.TryInsert(u.Canonical()) {
		return
	}
	metaJob := types.NewJob(u, job.URL, 0, job.RecursionLvl)
	p.registerHost(u)
	p.queue.Enqueue(metaJob)
}

func (p *Pool) startChunkedDownload(job *types.Job, contentLength int64, logger zerolog.Logger) {
	if contentLength <= 0 {
		return
	}
	ml := parts.BuildSyntheticMetalink(job.URL.String(), contentLength, p.cfg.ChunkSize, filepath.Base(job.URL.Path))
	job.Metalink = ml
	job.Parts = parts.BuildParts(ml)
	job.LocalFile = p.localPath(job)
	if err := os.MkdirAll(filepath.Dir(job.LocalFile), 0o755); err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	f, err := os.Create(job.LocalFile)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	if err := f.Truncate(contentLength); err != nil {
		f.Close()
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	f.Close()
	for i, part := range job.Parts {
		partJob := types.NewJob(job.URL, job.URL, 0, job.RecursionLvl)
		partJob.IsPart = true
		partJob.PartIdx = i
		partJob.Parent = job
		partJob.LocalFile = job.LocalFile
		p.queue.Enqueue(partJob)
		_ = part
	}
}

func (p *Pool) registerHost(u *urlcanon.URL) {
	host, port := u.HostPort()
	p.hosts.GetOrCreate(u.Scheme, host, port)
}
