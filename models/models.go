package models

import (
	"encoding/json"
	"time"
)

// Effect labels a method claim can carry. Anything else is treated as unknown.
const (
	EffectPositive = "positive"
	EffectNegative = "negative"
	EffectNeutral  = "neutral"
	EffectUnknown  = "unknown"
)

// ValidEffectLabel reports whether label is one of the fixed effect labels.
func ValidEffectLabel(label string) bool {
	switch label {
	case EffectPositive, EffectNegative, EffectNeutral, EffectUnknown:
		return true
	}
	return false
}

// CollectedPost is one observed post in canonical form, regardless of which
// platform it came from. PlatformID is the dedup key; posts are immutable
// once stored.
type CollectedPost struct {
	SourceKeyword   string    `json:"source_keyword"`
	PlatformID      string    `json:"platform_id"`
	Username        string    `json:"username"`
	DisplayName     string    `json:"display_name"`
	Content         string    `json:"content"`
	PostedAt        time.Time `json:"posted_at"`
	URL             string    `json:"url"`
	Lang            string    `json:"lang"`
	IngestionSource string    `json:"ingestion_source"`
	CollectedAt     time.Time `json:"collected_at"`
}

// ExtractedMethod is one method/effect claim pulled out of a single post by
// the analyzer. RawResponse keeps the per-method model output verbatim for
// auditing.
type ExtractedMethod struct {
	MethodSlug        string          `json:"method_slug"`
	MethodDisplayName string          `json:"method_display_name"`
	ActionText        string          `json:"action_text"`
	EffectText        string          `json:"effect_text"`
	EffectLabel       string          `json:"effect_label"`
	SentimentScore    float64         `json:"sentiment_score"`
	Confidence        float64         `json:"confidence"`
	SpamFlag          bool            `json:"spam_flag"`
	RawResponse       json.RawMessage `json:"raw_response"`
}

// MethodEvent is a persisted ExtractedMethod tied to its originating post.
type MethodEvent struct {
	PostID          string `json:"post_id"`
	AnalyzerVersion string `json:"analyzer_version"`
	ExtractedMethod
	CreatedAt time.Time `json:"created_at"`
}

// EventWithPost joins a method event with the posting time of its source
// post, which is what the aggregator's rolling window is anchored on.
type EventWithPost struct {
	MethodEvent
	PostedAt time.Time `json:"posted_at"`
}

// MethodStats is the aggregate over all non-spam events sharing a slug.
// It is a derived view: recomputed wholesale on every aggregation pass and
// upserted by slug, never independently mutated.
type MethodStats struct {
	MethodSlug         string    `json:"method_slug"`
	DisplayName        string    `json:"display_name"`
	Locale             string    `json:"locale"`
	PositiveTotal      int       `json:"positive_total"`
	NegativeTotal      int       `json:"negative_total"`
	NeutralTotal       int       `json:"neutral_total"`
	Rolling30dPositive int       `json:"rolling_30d_positive"`
	Rolling30dNegative int       `json:"rolling_30d_negative"`
	Rolling30dNeutral  int       `json:"rolling_30d_neutral"`
	LastPostAt         time.Time `json:"last_post_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PipelineReport summarizes one orchestrator run for logging and the API.
type PipelineReport struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Fetched      int       `json:"fetched"`
	Skipped      int       `json:"skipped_already_processed"`
	Extracted    int       `json:"extracted"`
	Persisted    int       `json:"persisted"`
	StatsUpdated int       `json:"stats_updated"`
}
