package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/errkind"
	"github.com/tanq16/danzo-crawl/internal/parts"
	"github.com/tanq16/danzo-crawl/internal/types"
	"github.com/tanq16/danzo-crawl/internal/urlcanon"
)

// processPart implements the PART job path of spec.md §4.6: a Range GET
// against the worker's assigned mirror, positioned write to the shared
// destination file, and — once every part of the parent job is done —
// whole-file coverage and hash verification.
func (p *Pool) processPart(ctx context.Context, workerID int, job *types.Job, logger zerolog.Logger) {
	parent := job.Parent
	if parent == nil || parent.Metalink == nil || job.PartIdx >= len(parent.Parts) {
		p.fail(job, errkind.KindParse, fmt.Errorf("part job missing parent metalink state"), logger)
		return
	}
	part := parent.Parts[job.PartIdx]

	mirror, ok := parts.MirrorForAttempt(parent.Metalink.Mirrors, workerID, job.Retries)
	if !ok {
		p.fail(job, errkind.KindConnect, fmt.Errorf("exhausted mirrors for part %d", part.ID), logger)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror.URL, nil)
	if err != nil {
		p.fail(job, errkind.KindParse, err, logger)
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", part.Position, part.Position+part.Length-1))
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	target, err := parseHostPort(mirror.URL)
	if err != nil {
		p.fail(job, errkind.KindParse, err, logger)
		return
	}
	client, err := p.clients.Get(target.scheme, target.host, target.port)
	if err != nil {
		job.Retries++
		p.queue.Requeue(job)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		job.Retries++
		if job.Retries >= len(parent.Metalink.Mirrors) {
			p.fail(job, errkind.KindConnect, err, logger)
			return
		}
		p.queue.Requeue(job)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		job.Retries++
		if job.Retries >= len(parent.Metalink.Mirrors) {
			p.fail(job, errkind.KindHTTPServerError, errStatus(resp), logger)
			return
		}
		p.queue.Requeue(job)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	if int64(len(data)) != part.Length {
		job.Retries++
		p.queue.Requeue(job)
		return
	}

	f, err := os.OpenFile(parent.LocalFile, os.O_WRONLY, 0o644)
	if err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	defer f.Close()
	if err := parts.WriteAt(f, part, data); err != nil {
		p.fail(job, errkind.KindIO, err, logger)
		return
	}
	part.Done = true
	p.bytesRead.add(part.Length)
	p.sink.JobSucceeded(job.URL.String(), part.Length)

	if parent.AllPartsDone() {
		p.finalizeParts(parent, logger)
	}
}

func (p *Pool) finalizeParts(parent *types.Job, logger zerolog.Logger) {
	if err := parts.VerifyCoverage(parent.Parts, parent.Metalink.TotalSize); err != nil {
		logger.Error().Err(err).Str("url", parent.URL.String()).Msg("part coverage check failed")
		p.sink.JobFailed(parent.URL.String(), errkind.KindIO)
		p.recordKind(errkind.KindIO)
		return
	}
	for _, piece := range parent.Metalink.Pieces {
		if piece.Hash == "" {
			continue
		}
		if err := parts.VerifyHash(parent.LocalFile, piece.Hash); err != nil {
			logger.Error().Err(err).Str("url", parent.URL.String()).Msg("hash verification failed")
			p.sink.JobFailed(parent.URL.String(), errkind.KindSignature)
			p.recordKind(errkind.KindSignature)
			return
		}
	}
	p.sink.JobSucceeded(parent.URL.String(), 0)
}

type hostPort struct {
	scheme, host, port string
}

func parseHostPort(rawURL string) (hostPort, error) {
	u, err := urlcanon.Parse(rawURL, nil)
	if err != nil {
		return hostPort{}, err
	}
	host, port := u.HostPort()
	return hostPort{scheme: u.Scheme, host: host, port: port}, nil
}
