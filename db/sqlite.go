package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/models"
)

// Database is the SQLite-backed event store
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// note: in an ideal world, this would be a migration that we could just run once per environment
	query := `
	CREATE TABLE IF NOT EXISTS posts (
		platform_id TEXT PRIMARY KEY,
		source_keyword TEXT NOT NULL,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL,
		content TEXT NOT NULL,
		posted_at TIMESTAMP NOT NULL,
		url TEXT,
		lang TEXT NOT NULL,
		ingestion_source TEXT NOT NULL,
		collected_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_posted_at ON posts(posted_at DESC);

	CREATE TABLE IF NOT EXISTS method_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL,
		method_slug TEXT NOT NULL,
		method_display_name TEXT NOT NULL,
		action_text TEXT NOT NULL,
		effect_text TEXT NOT NULL,
		effect_label TEXT NOT NULL,
		sentiment_score REAL NOT NULL,
		confidence REAL NOT NULL,
		spam_flag BOOLEAN NOT NULL,
		analyzer_version TEXT NOT NULL,
		raw_response TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(post_id, method_slug, action_text)
	);
	CREATE INDEX IF NOT EXISTS idx_method_events_post_id ON method_events(post_id);
	CREATE INDEX IF NOT EXISTS idx_method_events_slug ON method_events(method_slug);

	CREATE TABLE IF NOT EXISTS method_stats (
		method_slug TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		locale TEXT NOT NULL,
		positive_total INTEGER NOT NULL,
		negative_total INTEGER NOT NULL,
		neutral_total INTEGER NOT NULL,
		rolling_30d_positive INTEGER NOT NULL,
		rolling_30d_negative INTEGER NOT NULL,
		rolling_30d_neutral INTEGER NOT NULL,
		last_post_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := d.db.Exec(query)
	return err
}

// InsertPosts saves collected posts, ignoring rows whose platform_id already exists
func (d *Database) InsertPosts(ctx context.Context, posts []models.CollectedPost) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT OR IGNORE INTO posts (
		platform_id, source_keyword, username, display_name, content,
		posted_at, url, lang, ingestion_source, collected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	inserted := 0
	for _, post := range posts {
		result, err := d.db.ExecContext(
			ctx, query,
			post.PlatformID, post.SourceKeyword, post.Username, post.DisplayName,
			post.Content, post.PostedAt.UTC().Format(time.RFC3339), post.URL,
			post.Lang, post.IngestionSource, post.CollectedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to save post %s: %w", post.PlatformID, err)
		}
		if rows, err := result.RowsAffected(); err == nil {
			inserted += int(rows)
		}
	}

	return inserted, nil
}

// FetchRecentPosts returns up to limit posts ordered newest first
func (d *Database) FetchRecentPosts(ctx context.Context, limit int) ([]models.CollectedPost, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT platform_id, source_keyword, username, display_name, content,
		posted_at, url, lang, ingestion_source, collected_at
	FROM posts
	ORDER BY posted_at DESC
	LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.CollectedPost, 0, limit)
	for rows.Next() {
		var post models.CollectedPost
		var postedAt string
		var collectedAt string

		err := rows.Scan(
			&post.PlatformID, &post.SourceKeyword, &post.Username, &post.DisplayName,
			&post.Content, &postedAt, &post.URL, &post.Lang,
			&post.IngestionSource, &collectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}

		post.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
		post.CollectedAt, _ = time.Parse(time.RFC3339, collectedAt)
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return posts, nil
}

// FetchProcessedPostIDs returns which of the candidate ids already have method events
func (d *Database) FetchProcessedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error) {
	processed := make(map[string]bool)
	if len(postIDs) == 0 {
		return processed, nil
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	placeholders := strings.Repeat("?,", len(postIDs)-1) + "?"
	query := fmt.Sprintf(
		"SELECT DISTINCT post_id FROM method_events WHERE post_id IN (%s)",
		placeholders,
	)

	args := make([]interface{}, len(postIDs))
	for i, id := range postIDs {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed post ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		processed[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return processed, nil
}

// InsertMethodEvents saves extracted method events, ignoring duplicates
func (d *Database) InsertMethodEvents(ctx context.Context, events []models.MethodEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT OR IGNORE INTO method_events (
		post_id, method_slug, method_display_name, action_text, effect_text,
		effect_label, sentiment_score, confidence, spam_flag,
		analyzer_version, raw_response, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	inserted := 0
	for _, event := range events {
		result, err := d.db.ExecContext(
			ctx, query,
			event.PostID, event.MethodSlug, event.MethodDisplayName,
			event.ActionText, event.EffectText, event.EffectLabel,
			event.SentimentScore, event.Confidence, event.SpamFlag,
			event.AnalyzerVersion, string(event.RawResponse),
			event.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to save method event for post %s: %w", event.PostID, err)
		}
		if rows, err := result.RowsAffected(); err == nil {
			inserted += int(rows)
		}
	}

	return inserted, nil
}

// FetchEventsWithPosts returns all method events joined with their post's posted_at
func (d *Database) FetchEventsWithPosts(ctx context.Context) ([]models.EventWithPost, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT e.post_id, e.method_slug, e.method_display_name, e.action_text,
		e.effect_text, e.effect_label, e.sentiment_score, e.confidence,
		e.spam_flag, e.analyzer_version, e.raw_response, e.created_at,
		p.posted_at
	FROM method_events e
	JOIN posts p ON p.platform_id = e.post_id
	ORDER BY e.created_at ASC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query method events: %w", err)
	}
	defer rows.Close()

	events := make([]models.EventWithPost, 0)
	for rows.Next() {
		var event models.EventWithPost
		var rawResponse string
		var createdAt string
		var postedAt string

		err := rows.Scan(
			&event.PostID, &event.MethodSlug, &event.MethodDisplayName,
			&event.ActionText, &event.EffectText, &event.EffectLabel,
			&event.SentimentScore, &event.Confidence, &event.SpamFlag,
			&event.AnalyzerVersion, &rawResponse, &createdAt, &postedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan method event: %w", err)
		}

		event.RawResponse = []byte(rawResponse)
		event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		event.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

// UpsertMethodStats merges stats rows on method_slug
func (d *Database) UpsertMethodStats(ctx context.Context, stats []models.MethodStats) error {
	if len(stats) == 0 {
		return nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT INTO method_stats (
		method_slug, display_name, locale, positive_total, negative_total,
		neutral_total, rolling_30d_positive, rolling_30d_negative,
		rolling_30d_neutral, last_post_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(method_slug) DO UPDATE SET
		display_name = excluded.display_name,
		locale = excluded.locale,
		positive_total = excluded.positive_total,
		negative_total = excluded.negative_total,
		neutral_total = excluded.neutral_total,
		rolling_30d_positive = excluded.rolling_30d_positive,
		rolling_30d_negative = excluded.rolling_30d_negative,
		rolling_30d_neutral = excluded.rolling_30d_neutral,
		last_post_at = excluded.last_post_at,
		updated_at = excluded.updated_at
	`

	for _, row := range stats {
		_, err := d.db.ExecContext(
			ctx, query,
			row.MethodSlug, row.DisplayName, row.Locale, row.PositiveTotal,
			row.NegativeTotal, row.NeutralTotal, row.Rolling30dPositive,
			row.Rolling30dNegative, row.Rolling30dNeutral,
			row.LastPostAt.UTC().Format(time.RFC3339),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert stats for %s: %w", row.MethodSlug, err)
		}
	}

	return nil
}

// FetchMethodStats returns all persisted stats rows, most positive first
func (d *Database) FetchMethodStats(ctx context.Context) ([]models.MethodStats, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT method_slug, display_name, locale, positive_total, negative_total,
		neutral_total, rolling_30d_positive, rolling_30d_negative,
		rolling_30d_neutral, last_post_at, updated_at
	FROM method_stats
	ORDER BY positive_total DESC, method_slug ASC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query method stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.MethodStats, 0)
	for rows.Next() {
		var row models.MethodStats
		var lastPostAt string
		var updatedAt string

		err := rows.Scan(
			&row.MethodSlug, &row.DisplayName, &row.Locale, &row.PositiveTotal,
			&row.NegativeTotal, &row.NeutralTotal, &row.Rolling30dPositive,
			&row.Rolling30dNegative, &row.Rolling30dNeutral, &lastPostAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan method stats: %w", err)
		}

		row.LastPostAt, _ = time.Parse(time.RFC3339, lastPostAt)
		row.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		stats = append(stats, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return stats, nil
}
