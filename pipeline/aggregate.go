package pipeline

import (
	"time"

	"github.com/jinjinsansan/recovery/models"
)

const rollingWindow = 30 * 24 * time.Hour

// slugAccumulator folds one method_slug's events.
type slugAccumulator struct {
	nameCounts map[string]int
	nameOrder  []string
	positive   int
	negative   int
	neutral    int
	rollingPos int
	rollingNeg int
	rollingNeu int
	lastPostAt time.Time
}

// BuildMethodStats folds the full current event set into one stats row per
// method slug. Spam events and events without a slug contribute nothing.
// Lifetime counters bucket by effect label (unknown or invalid labels count
// in none of them); rolling counters re-derive the same buckets restricted to
// posts within the trailing 30 days of now. The window is recomputed from
// scratch every run rather than maintained incrementally, so counters are
// always consistent with the event set at the instant of computation.
//
// Slugs with zero remaining events after filtering produce no row at all, so
// callers must upsert rather than replace-all.
func BuildMethodStats(events []models.EventWithPost, now time.Time) []models.MethodStats {
	cutoff := now.Add(-rollingWindow)

	groups := make(map[string]*slugAccumulator)
	slugOrder := make([]string, 0)

	for _, event := range events {
		if event.SpamFlag {
			continue
		}
		if event.MethodSlug == "" {
			continue
		}

		acc, ok := groups[event.MethodSlug]
		if !ok {
			acc = &slugAccumulator{nameCounts: make(map[string]int)}
			groups[event.MethodSlug] = acc
			slugOrder = append(slugOrder, event.MethodSlug)
		}

		displayName := event.MethodDisplayName
		if displayName == "" {
			displayName = event.MethodSlug
		}
		if _, seen := acc.nameCounts[displayName]; !seen {
			acc.nameOrder = append(acc.nameOrder, displayName)
		}
		acc.nameCounts[displayName]++

		inWindow := !event.PostedAt.Before(cutoff)
		switch event.EffectLabel {
		case models.EffectPositive:
			acc.positive++
			if inWindow {
				acc.rollingPos++
			}
		case models.EffectNegative:
			acc.negative++
			if inWindow {
				acc.rollingNeg++
			}
		case models.EffectNeutral:
			acc.neutral++
			if inWindow {
				acc.rollingNeu++
			}
		}

		if event.PostedAt.After(acc.lastPostAt) {
			acc.lastPostAt = event.PostedAt
		}
	}

	stats := make([]models.MethodStats, 0, len(slugOrder))
	for _, slug := range slugOrder {
		acc := groups[slug]
		stats = append(stats, models.MethodStats{
			MethodSlug:         slug,
			DisplayName:        mostFrequentName(acc),
			Locale:             "ja",
			PositiveTotal:      acc.positive,
			NegativeTotal:      acc.negative,
			NeutralTotal:       acc.neutral,
			Rolling30dPositive: acc.rollingPos,
			Rolling30dNegative: acc.rollingNeg,
			Rolling30dNeutral:  acc.rollingNeu,
			LastPostAt:         acc.lastPostAt,
			UpdatedAt:          now,
		})
	}

	return stats
}

// mostFrequentName picks the display name seen most often for a slug; ties
// break toward the name seen first. This absorbs minor model phrasing
// variance under one canonical label.
func mostFrequentName(acc *slugAccumulator) string {
	best := ""
	bestCount := 0
	for _, name := range acc.nameOrder {
		if acc.nameCounts[name] > bestCount {
			best = name
			bestCount = acc.nameCounts[name]
		}
	}
	return best
}
