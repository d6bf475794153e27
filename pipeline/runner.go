package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/judge"
	"github.com/jinjinsansan/recovery/models"
)

// Runner drives the orchestrator on a fixed interval and keeps the latest
// report for the API. A single runner executes runs sequentially; there is no
// internal parallelism between passes.
type Runner struct {
	orchestrator *Orchestrator
	feed         *judge.Feed
	interval     time.Duration
	log          *logrus.Logger
	mutex        sync.RWMutex
	lastReport   models.PipelineReport
	hasReport    bool
}

// NewRunner creates a runner. feed may be nil to disable post judging.
func NewRunner(orchestrator *Orchestrator, feed *judge.Feed, interval time.Duration, log *logrus.Logger) *Runner {
	return &Runner{
		orchestrator: orchestrator,
		feed:         feed,
		interval:     interval,
		log:          log,
	}
}

// Start runs one pass immediately, then on every tick until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce executes collect + pipeline, logging failures without stopping the
// loop: source failures retry naturally on the next tick, and a fatal persist
// failure leaves the batch untouched for the retry.
func (r *Runner) runOnce(ctx context.Context) {
	collected, err := r.orchestrator.Collect(ctx)
	if err != nil {
		r.log.WithError(err).Error("Collection failed, will retry next run")
	}

	if r.feed != nil {
		for _, post := range collected {
			r.feed.Judge(post)
		}
	}

	report, err := r.orchestrator.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			r.log.WithError(err).Error("Pipeline run aborted on persistence failure, batch left unprocessed")
		} else {
			r.log.WithError(err).Error("Pipeline run failed")
		}
		return
	}

	r.mutex.Lock()
	r.lastReport = report
	r.hasReport = true
	r.mutex.Unlock()
}

// LastReport returns the most recent successful run's report.
func (r *Runner) LastReport() (models.PipelineReport, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lastReport, r.hasReport
}
