package pipeline

import (
	"github.com/jinjinsansan/recovery/models"
)

// Unprocessed returns the subset of candidate posts that have no persisted
// method events yet, preserving candidate order. This gate is what gives the
// pipeline at-most-once extraction per post: membership comes from the store,
// so it survives restarts. Concurrent runs can race past the check and
// extract the same post twice; the store's conflict-tolerant inserts absorb
// the duplicate.
func Unprocessed(candidates []models.CollectedPost, processed map[string]bool) []models.CollectedPost {
	pending := make([]models.CollectedPost, 0, len(candidates))
	for _, post := range candidates {
		if !processed[post.PlatformID] {
			pending = append(pending, post)
		}
	}
	return pending
}
