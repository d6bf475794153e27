package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjinsansan/recovery/models"
)

func event(slug, displayName, label string, postedAt time.Time) models.EventWithPost {
	return models.EventWithPost{
		MethodEvent: models.MethodEvent{
			PostID: "post-" + slug,
			ExtractedMethod: models.ExtractedMethod{
				MethodSlug:        slug,
				MethodDisplayName: displayName,
				ActionText:        "行動",
				EffectText:        "効果",
				EffectLabel:       label,
				SentimentScore:    0.5,
				Confidence:        0.8,
			},
		},
		PostedAt: postedAt,
	}
}

func spamEvent(slug string, postedAt time.Time) models.EventWithPost {
	e := event(slug, slug, models.EffectPositive, postedAt)
	e.SpamFlag = true
	return e
}

func TestBuildMethodStatsSingleEvent(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	events := []models.EventWithPost{
		event("ssri", "SSRI再開", models.EffectPositive, now.AddDate(0, 0, -1)),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)
	assert.Equal(t, "ssri", stats[0].MethodSlug)
	assert.Equal(t, "SSRI再開", stats[0].DisplayName)
	assert.Equal(t, "ja", stats[0].Locale)
	assert.Equal(t, 1, stats[0].PositiveTotal)
	assert.Equal(t, 1, stats[0].Rolling30dPositive)
	assert.Equal(t, 0, stats[0].NegativeTotal)
	assert.Equal(t, now.AddDate(0, 0, -1), stats[0].LastPostAt)
	assert.Equal(t, now, stats[0].UpdatedAt)
}

func TestBuildMethodStatsLabelPartition(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -5)
	events := []models.EventWithPost{
		event("ssri", "SSRI", models.EffectPositive, recent),
		event("ssri", "SSRI", models.EffectPositive, recent),
		event("ssri", "SSRI", models.EffectNegative, recent),
		event("ssri", "SSRI", models.EffectNeutral, recent),
		event("ssri", "SSRI", models.EffectUnknown, recent),
		event("ssri", "SSRI", "garbage-label", recent),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)

	// positive + negative + neutral + (unknown or invalid) covers the group
	counted := stats[0].PositiveTotal + stats[0].NegativeTotal + stats[0].NeutralTotal
	assert.Equal(t, 2, stats[0].PositiveTotal)
	assert.Equal(t, 1, stats[0].NegativeTotal)
	assert.Equal(t, 1, stats[0].NeutralTotal)
	assert.Equal(t, len(events)-counted, 2) // unknown + invalid counted nowhere
}

func TestBuildMethodStatsSpamExcluded(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	events := []models.EventWithPost{
		spamEvent("miracle-water", now.AddDate(0, 0, -1)),
		spamEvent("miracle-water", now.AddDate(0, 0, -2)),
	}

	// a slug with only spam events produces no row, not a zero row
	stats := BuildMethodStats(events, now)
	assert.Empty(t, stats)
}

func TestBuildMethodStatsEmptySlugExcluded(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	events := []models.EventWithPost{
		event("", "名無し", models.EffectPositive, now.AddDate(0, 0, -1)),
	}

	stats := BuildMethodStats(events, now)
	assert.Empty(t, stats)
}

func TestBuildMethodStatsRollingWindowBoundary(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	events := []models.EventWithPost{
		event("ssri", "SSRI", models.EffectPositive, now.AddDate(0, 0, -31)),
		event("ssri", "SSRI", models.EffectPositive, now.AddDate(0, 0, -29)),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)

	// 31 days old: lifetime only; 29 days old: both
	assert.Equal(t, 2, stats[0].PositiveTotal)
	assert.Equal(t, 1, stats[0].Rolling30dPositive)
}

func TestBuildMethodStatsOnlyOldEvents(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	events := []models.EventWithPost{
		event("ssri", "SSRI", models.EffectPositive, now.AddDate(0, 0, -60)),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].PositiveTotal)
	assert.Equal(t, 0, stats[0].Rolling30dPositive)
}

func TestBuildMethodStatsDisplayNameMajority(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -1)
	events := []models.EventWithPost{
		event("ssri", "SSRI再開", models.EffectPositive, recent),
		event("ssri", "SSRI", models.EffectPositive, recent),
		event("ssri", "SSRI再開", models.EffectPositive, recent),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)
	assert.Equal(t, "SSRI再開", stats[0].DisplayName)
}

func TestBuildMethodStatsDisplayNameTieBreaksFirstSeen(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -1)
	events := []models.EventWithPost{
		event("walk", "朝散歩", models.EffectPositive, recent),
		event("walk", "散歩", models.EffectPositive, recent),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)
	assert.Equal(t, "朝散歩", stats[0].DisplayName)
}

func TestBuildMethodStatsLastPostAt(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	oldest := now.AddDate(0, 0, -40)
	newest := now.AddDate(0, 0, -2)
	events := []models.EventWithPost{
		event("ssri", "SSRI", models.EffectPositive, newest),
		event("ssri", "SSRI", models.EffectNegative, oldest),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 1)
	assert.Equal(t, newest, stats[0].LastPostAt)
}

func TestBuildMethodStatsGroupsBySlug(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -1)
	events := []models.EventWithPost{
		event("ssri", "SSRI", models.EffectPositive, recent),
		event("morning-walk", "朝散歩", models.EffectNeutral, recent),
		event("ssri", "SSRI", models.EffectNegative, recent),
	}

	stats := BuildMethodStats(events, now)
	require.Len(t, stats, 2)
	// first-seen slug order
	assert.Equal(t, "ssri", stats[0].MethodSlug)
	assert.Equal(t, "morning-walk", stats[1].MethodSlug)
	assert.Equal(t, 1, stats[0].PositiveTotal)
	assert.Equal(t, 1, stats[0].NegativeTotal)
	assert.Equal(t, 1, stats[1].NeutralTotal)
}

func TestUnprocessed(t *testing.T) {
	posts := []models.CollectedPost{
		{PlatformID: "p1"},
		{PlatformID: "p2"},
		{PlatformID: "p3"},
	}
	processed := map[string]bool{"p2": true}

	pending := Unprocessed(posts, processed)
	require.Len(t, pending, 2)
	assert.Equal(t, "p1", pending[0].PlatformID)
	assert.Equal(t, "p3", pending[1].PlatformID)

	// nothing processed yet
	assert.Len(t, Unprocessed(posts, map[string]bool{}), 3)

	// everything processed
	all := map[string]bool{"p1": true, "p2": true, "p3": true}
	assert.Empty(t, Unprocessed(posts, all))
}
