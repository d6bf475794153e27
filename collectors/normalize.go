package collectors

import (
	"strings"
	"time"

	"github.com/jinjinsansan/recovery/models"
)

// RawPost is the minimal platform-agnostic payload a source hands to the
// normalizer: whatever a platform calls these fields, a collector maps them
// here before normalization.
type RawPost struct {
	ID          string
	Username    string
	DisplayName string
	Body        string
	PostedAt    string // platform-native timestamp string, parsed leniently
	URL         string
	Lang        string
}

// timestampFormats are tried in order when parsing platform timestamps.
// Covers ISO-8601 with and without offsets plus the legacy X created_at form.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RubyDate,
}

// Normalize converts one platform payload into a canonical CollectedPost.
// Payloads without a stable id, body text, or resolvable author are dropped
// (ok=false); partial upstream data is expected and non-fatal. An unparseable
// timestamp falls back to the current UTC time rather than losing the post.
func Normalize(keyword, ingestionSource string, raw RawPost) (models.CollectedPost, bool) {
	if raw.ID == "" || strings.TrimSpace(raw.Body) == "" || raw.Username == "" {
		return models.CollectedPost{}, false
	}

	username := raw.Username
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}

	displayName := raw.DisplayName
	if displayName == "" {
		displayName = raw.Username
	}

	lang := raw.Lang
	if lang == "" {
		lang = "ja"
	}

	return models.CollectedPost{
		SourceKeyword:   keyword,
		PlatformID:      raw.ID,
		Username:        username,
		DisplayName:     displayName,
		Content:         strings.TrimSpace(raw.Body),
		PostedAt:        parseTimestamp(raw.PostedAt),
		URL:             raw.URL,
		Lang:            lang,
		IngestionSource: ingestionSource,
		CollectedAt:     time.Now().UTC(),
	}, true
}

// NormalizeAll normalizes a payload sequence, preserving input order and
// silently skipping malformed entries. No dedup happens here; that is the
// pipeline's job against the store.
func NormalizeAll(keyword, ingestionSource string, raws []RawPost) []models.CollectedPost {
	posts := make([]models.CollectedPost, 0, len(raws))
	for _, raw := range raws {
		if post, ok := Normalize(keyword, ingestionSource, raw); ok {
			posts = append(posts, post)
		}
	}
	return posts
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	for _, format := range timestampFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
