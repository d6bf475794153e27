package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/models"
)

const defaultNoteBaseURL = "https://note.com"

// Source is a post provider: any platform collector satisfying
// "id, text, author, timestamp" works behind this interface.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]models.CollectedPost, error)
}

// NoteCollector scrapes note.com hashtag pages via the public JSON API.
type NoteCollector struct {
	client     *resty.Client
	baseURL    string
	hashtags   []string
	maxResults int
	log        *logrus.Logger
}

// NewNoteCollector creates a collector for the given hashtags. baseURL is
// overridable for tests; pass "" for the real endpoint.
func NewNoteCollector(baseURL string, hashtags []string, maxResults int, log *logrus.Logger) *NoteCollector {
	if baseURL == "" {
		baseURL = defaultNoteBaseURL
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	client := resty.New()
	client.SetTimeout(20 * time.Second)
	client.SetHeader("User-Agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	client.SetHeader("Accept", "application/json")

	return &NoteCollector{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		hashtags:   hashtags,
		maxResults: maxResults,
		log:        log,
	}
}

func (n *NoteCollector) Name() string {
	return "note_hashtag"
}

type noteUser struct {
	URLName  string `json:"urlname"`
	Nickname string `json:"nickname"`
	Name     string `json:"name"`
}

type noteEntry struct {
	Key       string   `json:"key"`
	Body      string   `json:"body"`
	PublishAt string   `json:"publishAt"`
	User      noteUser `json:"user"`
}

type noteHashtagResponse struct {
	Data struct {
		Notes    []noteEntry `json:"notes"`
		NextPage *int        `json:"next_page"`
	} `json:"data"`
}

// Collect fetches recent notes for every configured hashtag, walking
// pagination until maxResults per tag or the last page.
func (n *NoteCollector) Collect(ctx context.Context) ([]models.CollectedPost, error) {
	dataset := make([]models.CollectedPost, 0, n.maxResults*len(n.hashtags))
	for _, tag := range n.hashtags {
		posts, err := n.collectTag(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("note hashtag %q: %w", tag, err)
		}
		dataset = append(dataset, posts...)
	}
	return dataset, nil
}

func (n *NoteCollector) collectTag(ctx context.Context, tag string) ([]models.CollectedPost, error) {
	keyword := tag
	if !strings.HasPrefix(keyword, "#") {
		keyword = "#" + keyword
	}
	slug := url.PathEscape(strings.TrimPrefix(tag, "#"))

	collected := make([]models.CollectedPost, 0, n.maxResults)
	page := 1

	for len(collected) < n.maxResults {
		var payload noteHashtagResponse
		resp, err := n.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"order":     "new",
				"page":      fmt.Sprintf("%d", page),
				"paid_only": "false",
			}).
			SetHeader("Referer", fmt.Sprintf("%s/hashtag/%s", n.baseURL, slug)).
			SetResult(&payload).
			Get(fmt.Sprintf("%s/api/v3/hashtags/%s/notes", n.baseURL, slug))
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch page %d: unexpected status %d", page, resp.StatusCode())
		}

		if len(payload.Data.Notes) == 0 {
			break
		}

		raws := make([]RawPost, 0, len(payload.Data.Notes))
		for _, entry := range payload.Data.Notes {
			username := entry.User.URLName
			if username == "" {
				username = entry.User.Nickname
			}
			displayName := entry.User.Name
			if displayName == "" {
				displayName = entry.User.Nickname
			}
			raws = append(raws, RawPost{
				ID:          entry.Key,
				Username:    username,
				DisplayName: displayName,
				Body:        entry.Body,
				PostedAt:    entry.PublishAt,
				URL:         fmt.Sprintf("%s/%s/n/%s", n.baseURL, username, entry.Key),
				Lang:        "ja",
			})
		}

		for _, post := range NormalizeAll(keyword, n.Name(), raws) {
			if len(collected) >= n.maxResults {
				break
			}
			collected = append(collected, post)
		}

		if payload.Data.NextPage == nil || *payload.Data.NextPage == page {
			break
		}
		page = *payload.Data.NextPage
	}

	n.log.WithFields(logrus.Fields{
		"hashtag": keyword,
		"count":   len(collected),
	}).Info("Collected note posts for hashtag")

	return collected, nil
}
