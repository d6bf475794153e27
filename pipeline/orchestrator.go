package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/analyzer"
	"github.com/jinjinsansan/recovery/collectors"
	"github.com/jinjinsansan/recovery/db"
	"github.com/jinjinsansan/recovery/models"
)

// ErrPersistence marks a fatal store failure: the batch is left unprocessed
// and is safe to retry whole. Callers test with errors.Is to tell it apart
// from upstream fetch failures.
var ErrPersistence = errors.New("persistence failure")

const defaultFetchLimit = 100

// Orchestrator sequences fetch → dedup → extract → persist → aggregate
// against a store, with collection from the configured sources as a
// separate leading stage.
type Orchestrator struct {
	store      db.Store
	analyzer   *analyzer.Analyzer
	sources    []collectors.Source
	fetchLimit int
	log        *logrus.Logger
}

// NewOrchestrator creates an orchestrator. sources may be empty when posts
// arrive in the store through other means.
func NewOrchestrator(store db.Store, a *analyzer.Analyzer, sources []collectors.Source, fetchLimit int, log *logrus.Logger) *Orchestrator {
	if fetchLimit <= 0 {
		fetchLimit = defaultFetchLimit
	}
	return &Orchestrator{
		store:      store,
		analyzer:   a,
		sources:    sources,
		fetchLimit: fetchLimit,
		log:        log,
	}
}

// Collect fetches posts from every source and stores them, returning the
// collected posts. A failing source does not stop the others, but its error
// is surfaced so the caller can retry on the next run.
func (o *Orchestrator) Collect(ctx context.Context) ([]models.CollectedPost, error) {
	collected := make([]models.CollectedPost, 0)
	var sourceErrs []error

	for _, source := range o.sources {
		posts, err := source.Collect(ctx)
		if err != nil {
			o.log.WithError(err).WithField("source", source.Name()).Error("Source collection failed")
			sourceErrs = append(sourceErrs, fmt.Errorf("source %s: %w", source.Name(), err))
			continue
		}
		o.log.WithFields(logrus.Fields{
			"source": source.Name(),
			"count":  len(posts),
		}).Info("Collected posts from source")
		collected = append(collected, posts...)
	}

	if len(collected) > 0 {
		inserted, err := o.store.InsertPosts(ctx, collected)
		if err != nil {
			return nil, fmt.Errorf("%w: insert posts: %v", ErrPersistence, err)
		}
		o.log.WithFields(logrus.Fields{
			"collected": len(collected),
			"inserted":  inserted,
		}).Info("Stored collected posts")
	}

	return collected, errors.Join(sourceErrs...)
}

// Run executes one pipeline pass. Per-post extraction failures are isolated
// inside the batch; a persist failure is fatal to the run and surfaces as
// ErrPersistence with nothing half-applied; zero new events is a normal
// outcome that skips the stats refresh.
func (o *Orchestrator) Run(ctx context.Context) (models.PipelineReport, error) {
	report := models.PipelineReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	posts, err := o.store.FetchRecentPosts(ctx, o.fetchLimit)
	if err != nil {
		return report, fmt.Errorf("fetch posts: %w", err)
	}
	report.Fetched = len(posts)

	postIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		postIDs = append(postIDs, post.PlatformID)
	}
	processed, err := o.store.FetchProcessedPostIDs(ctx, postIDs)
	if err != nil {
		return report, fmt.Errorf("fetch processed ids: %w", err)
	}

	pending := Unprocessed(posts, processed)
	report.Skipped = len(posts) - len(pending)

	results := o.analyzer.ExtractBatch(ctx, pending)

	now := time.Now().UTC()
	events := make([]models.MethodEvent, 0, len(results))
	for postID, methods := range results {
		for _, method := range methods {
			events = append(events, models.MethodEvent{
				PostID:          postID,
				AnalyzerVersion: analyzer.Version,
				ExtractedMethod: method,
				CreatedAt:       now,
			})
		}
	}
	report.Extracted = len(events)

	if len(events) == 0 {
		o.log.WithFields(logrus.Fields{
			"run_id":  report.RunID,
			"fetched": report.Fetched,
			"skipped": report.Skipped,
		}).Info("No new method events this run")
		report.CompletedAt = time.Now().UTC()
		return report, nil
	}

	inserted, err := o.store.InsertMethodEvents(ctx, events)
	if err != nil {
		return report, fmt.Errorf("%w: insert method events: %v", ErrPersistence, err)
	}
	report.Persisted = inserted

	updated, err := o.refreshStats(ctx)
	if err != nil {
		return report, err
	}
	report.StatsUpdated = updated
	report.CompletedAt = time.Now().UTC()

	o.log.WithFields(logrus.Fields{
		"run_id":        report.RunID,
		"fetched":       report.Fetched,
		"skipped":       report.Skipped,
		"extracted":     report.Extracted,
		"persisted":     report.Persisted,
		"stats_updated": report.StatsUpdated,
	}).Info("Pipeline run completed")

	return report, nil
}

// refreshStats recomputes every stats row from the full current event set
// and upserts the result.
func (o *Orchestrator) refreshStats(ctx context.Context) (int, error) {
	events, err := o.store.FetchEventsWithPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch events: %v", ErrPersistence, err)
	}

	stats := BuildMethodStats(events, time.Now().UTC())
	if len(stats) == 0 {
		return 0, nil
	}

	if err := o.store.UpsertMethodStats(ctx, stats); err != nil {
		return 0, fmt.Errorf("%w: upsert stats: %v", ErrPersistence, err)
	}

	return len(stats), nil
}
