package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/models"
)

const supabaseChunkSize = 500

// SupabaseStore talks to the Supabase PostgREST API. Conflict handling is
// delegated to PostgREST: inserts use resolution=ignore-duplicates on the
// natural key, the stats upsert uses resolution=merge-duplicates.
type SupabaseStore struct {
	client  *resty.Client
	restURL string
	log     *logrus.Logger
}

// NewSupabaseStore creates a store backed by the given Supabase project.
func NewSupabaseStore(baseURL, serviceRoleKey string, log *logrus.Logger) (*SupabaseStore, error) {
	if baseURL == "" || serviceRoleKey == "" {
		return nil, fmt.Errorf("supabase URL and service role key are required")
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("apikey", serviceRoleKey)
	client.SetHeader("Authorization", "Bearer "+serviceRoleKey)
	client.SetHeader("Content-Type", "application/json")

	return &SupabaseStore{
		client:  client,
		restURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		log:     log,
	}, nil
}

// InsertPosts stores posts in chunks, ignoring platform_id conflicts
func (s *SupabaseStore) InsertPosts(ctx context.Context, posts []models.CollectedPost) (int, error) {
	inserted := 0
	for _, chunk := range chunkPosts(posts, supabaseChunkSize) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParam("on_conflict", "platform_id").
			SetHeader("Prefer", "resolution=ignore-duplicates").
			SetBody(chunk).
			Post(s.restURL + "/raw_posts")
		if err != nil {
			return inserted, fmt.Errorf("failed to insert posts: %w", err)
		}
		if resp.IsError() {
			return inserted, fmt.Errorf("failed to insert posts: status %d: %s", resp.StatusCode(), resp.String())
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// FetchRecentPosts returns up to limit posts ordered newest first
func (s *SupabaseStore) FetchRecentPosts(ctx context.Context, limit int) ([]models.CollectedPost, error) {
	var posts []models.CollectedPost
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "*",
			"order":  "posted_at.desc",
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&posts).
		Get(s.restURL + "/raw_posts")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch posts: status %d: %s", resp.StatusCode(), resp.String())
	}
	return posts, nil
}

// FetchProcessedPostIDs returns which candidate ids already have method events
func (s *SupabaseStore) FetchProcessedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error) {
	processed := make(map[string]bool)
	if len(postIDs) == 0 {
		return processed, nil
	}

	var rows []struct {
		PostID string `json:"post_id"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":  "post_id",
			"post_id": fmt.Sprintf("in.(%s)", strings.Join(postIDs, ",")),
		}).
		SetResult(&rows).
		Get(s.restURL + "/method_events")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch processed post ids: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch processed post ids: status %d: %s", resp.StatusCode(), resp.String())
	}

	for _, row := range rows {
		if row.PostID != "" {
			processed[row.PostID] = true
		}
	}
	return processed, nil
}

// InsertMethodEvents stores events in chunks, ignoring duplicate claims
func (s *SupabaseStore) InsertMethodEvents(ctx context.Context, events []models.MethodEvent) (int, error) {
	inserted := 0
	for _, chunk := range chunkEvents(events, supabaseChunkSize) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParam("on_conflict", "post_id,method_slug,action_text").
			SetHeader("Prefer", "resolution=ignore-duplicates").
			SetBody(chunk).
			Post(s.restURL + "/method_events")
		if err != nil {
			return inserted, fmt.Errorf("failed to insert method events: %w", err)
		}
		if resp.IsError() {
			return inserted, fmt.Errorf("failed to insert method events: status %d: %s", resp.StatusCode(), resp.String())
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// supabaseEvent carries the embedded source-post columns PostgREST returns
// for the raw_posts foreign-key select.
type supabaseEvent struct {
	models.MethodEvent
	RawPost struct {
		PostedAt time.Time `json:"posted_at"`
	} `json:"raw_posts"`
}

// FetchEventsWithPosts pages through all method events with their post's posted_at
func (s *SupabaseStore) FetchEventsWithPosts(ctx context.Context) ([]models.EventWithPost, error) {
	events := make([]models.EventWithPost, 0)
	offset := 0

	for {
		var chunk []supabaseEvent
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"select": "post_id,method_slug,method_display_name,action_text,effect_text," +
					"effect_label,sentiment_score,confidence,spam_flag,analyzer_version," +
					"raw_response,created_at,raw_posts:post_id(posted_at)",
				"order": "created_at.asc",
			}).
			SetHeader("Range", fmt.Sprintf("%d-%d", offset, offset+supabaseChunkSize-1)).
			SetResult(&chunk).
			Get(s.restURL + "/method_events")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch method events: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("failed to fetch method events: status %d: %s", resp.StatusCode(), resp.String())
		}

		for _, row := range chunk {
			events = append(events, models.EventWithPost{
				MethodEvent: row.MethodEvent,
				PostedAt:    row.RawPost.PostedAt,
			})
		}

		if len(chunk) < supabaseChunkSize {
			break
		}
		offset += supabaseChunkSize
	}

	return events, nil
}

// UpsertMethodStats merges stats rows on method_slug
func (s *SupabaseStore) UpsertMethodStats(ctx context.Context, stats []models.MethodStats) error {
	if len(stats) == 0 {
		return nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("on_conflict", "method_slug").
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetBody(stats).
		Post(s.restURL + "/method_stats")
	if err != nil {
		return fmt.Errorf("failed to upsert method stats: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to upsert method stats: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// FetchMethodStats returns all persisted stats rows
func (s *SupabaseStore) FetchMethodStats(ctx context.Context) ([]models.MethodStats, error) {
	var stats []models.MethodStats
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "*",
			"order":  "positive_total.desc",
		}).
		SetResult(&stats).
		Get(s.restURL + "/method_stats")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch method stats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch method stats: status %d: %s", resp.StatusCode(), resp.String())
	}
	return stats, nil
}

func chunkPosts(posts []models.CollectedPost, size int) [][]models.CollectedPost {
	chunks := make([][]models.CollectedPost, 0, (len(posts)+size-1)/size)
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		chunks = append(chunks, posts[start:end])
	}
	return chunks
}

func chunkEvents(events []models.MethodEvent, size int) [][]models.MethodEvent {
	chunks := make([][]models.MethodEvent, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		chunks = append(chunks, events[start:end])
	}
	return chunks
}
