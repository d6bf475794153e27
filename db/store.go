package db

import (
	"context"

	"github.com/jinjinsansan/recovery/models"
)

// Store is the event store contract the pipeline runs against. Inserts are
// conflict-tolerant on their natural keys (platform_id for posts; post_id +
// method_slug + action_text for events) so re-runs over the same data are
// safe; UpsertMethodStats merges on method_slug.
type Store interface {
	// InsertPosts stores collected posts, silently ignoring duplicates.
	// Returns the number of rows actually inserted.
	InsertPosts(ctx context.Context, posts []models.CollectedPost) (int, error)

	// FetchRecentPosts returns up to limit posts, newest first.
	FetchRecentPosts(ctx context.Context, limit int) ([]models.CollectedPost, error)

	// FetchProcessedPostIDs returns, out of the given candidate ids, the set
	// that already has persisted method events. This is the durable side of
	// the dedup gate; it must survive process restarts.
	FetchProcessedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error)

	// InsertMethodEvents stores extracted method events, silently ignoring
	// duplicates. Returns the number of rows actually inserted.
	InsertMethodEvents(ctx context.Context, events []models.MethodEvent) (int, error)

	// FetchEventsWithPosts returns every method event joined with its source
	// post's posted_at, the aggregator's full input set.
	FetchEventsWithPosts(ctx context.Context) ([]models.EventWithPost, error)

	// UpsertMethodStats merges the given stats rows on method_slug. Rows for
	// slugs absent from the input are left untouched.
	UpsertMethodStats(ctx context.Context, stats []models.MethodStats) error

	// FetchMethodStats returns all persisted stats rows.
	FetchMethodStats(ctx context.Context) ([]models.MethodStats, error)
}
