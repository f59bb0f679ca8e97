// Package coordinator implements the Main Controller of spec.md §4.8:
// starts the Worker Pool and Input Driver, then blocks on the
// work-completed condition, waking to check the shutdown predicates —
// queue drained, byte quota reached, SIGTERM (graceful drain), or SIGINT
// (abort) — and finally reports the run's exit status.
//
// Grounded on the teacher's internal.BatchDownload orchestration (start
// workers, wait for a WaitGroup, return the aggregated error), generalized
// from a fixed pre-known job list and a single wait-for-completion barrier
// to a live, recursively-fed queue with multiple independent shutdown
// triggers.
package coordinator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-crawl/internal/fetch"
	"github.com/tanq16/danzo-crawl/internal/input"
)

// Config parameterizes the Main Controller.
type Config struct {
	Workers int
	Quota   int64 // bytes; 0 = unlimited, checked per spec.md §4.8(b)

	// PollInterval bounds how long the controller can go without
	// rechecking quota when no job happens to complete in the meantime.
	PollInterval time.Duration
}

// Controller owns one run of the coordinator end to end.
type Controller struct {
	cfg    Config
	pool   *fetch.Pool
	driver *input.Driver
	log    zerolog.Logger
}

// New returns a Controller over an already-wired Worker Pool and Input
// Driver (the leaf components built by cmd/).
func New(cfg Config, pool *fetch.Pool, driver *input.Driver, log zerolog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Controller{cfg: cfg, pool: pool, driver: driver, log: log}
}

// Run starts the Worker Pool and Input Driver, blocks until every shutdown
// predicate in spec.md §4.8 is satisfied, and returns the run's exit
// status (the minimum non-zero error-kind code observed, or 0).
func (c *Controller) Run(ctx context.Context, positional []string, inputFile string, force input.ForceParse) (int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var workersDone sync.WaitGroup
	workersDone.Add(1)
	go func() {
		defer workersDone.Done()
		c.pool.Run(runCtx, c.cfg.Workers)
	}()

	if err := c.driver.Start(positional, inputFile, force); err != nil {
		cancel()
		workersDone.Wait()
		return c.pool.ExitStatus(), err
	}

	poolDone := make(chan struct{})
	go func() {
		workersDone.Wait()
		close(poolDone)
	}()

	// completedCh nudges the select loop awake on every job completion, so
	// a quota crossed mid-burst is noticed without waiting a full
	// PollInterval tick. The goroutine outlives Run if no further job ever
	// completes after shutdown starts; harmless, it is process-lifetime
	// bounded and holds no resources worth reclaiming.
	completedCh := make(chan struct{}, 1)
	go func() {
		for {
			c.pool.WaitJobCompleted()
			select {
			case completedCh <- struct{}{}:
			default:
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	terminating := false
	for {
		select {
		case <-poolDone:
			c.driver.Wait()
			return c.pool.ExitStatus(), nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT:
				c.log.Warn().Msg("interrupt received, aborting")
				c.pool.CloseInput()
				cancel() // spec.md §4.8(d): abort, don't wait for in-flight work
			case syscall.SIGTERM:
				if !terminating {
					terminating = true
					c.log.Info().Msg("terminate signal received, draining queue")
					c.pool.CloseInput() // spec.md §4.8(c): mark input closed; queued work and its discovered links still run
				}
			}

		case <-completedCh:
			c.checkQuota()

		case <-ticker.C:
			c.checkQuota()
		}
	}
}

// checkQuota implements spec.md §4.8(b): once the byte quota is reached,
// close the queue's input side the same way an exhausted Input Driver
// would. This only marks the input closed: the queue does not reject later
// jobs, so queued jobs still run, links they discover are still enqueued
// and fetched, and a seed source that is still being read keeps
// dispatching. The crawl ends when the queue drains, not at the quota.
func (c *Controller) checkQuota() {
	if c.cfg.Quota <= 0 {
		return
	}
	if c.pool.BytesDownloaded() >= c.cfg.Quota {
		c.log.Info().Int64("quota", c.cfg.Quota).Int64("downloaded", c.pool.BytesDownloaded()).Msg("quota reached, draining queue")
		c.pool.CloseInput()
	}
}
