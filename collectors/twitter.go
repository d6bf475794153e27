package collectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/models"
)

const defaultTwitterBaseURL = "https://api.twitter.com"

// TwitterCollector fetches recent X posts matching keywords through the v2
// recent-search API with a caller-supplied bearer token.
type TwitterCollector struct {
	client     *resty.Client
	baseURL    string
	keywords   []string
	lang       string
	maxResults int
	log        *logrus.Logger
}

func NewTwitterCollector(baseURL, bearerToken string, keywords []string, maxResults int, log *logrus.Logger) *TwitterCollector {
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	client := resty.New()
	client.SetTimeout(20 * time.Second)
	client.SetAuthToken(bearerToken)

	return &TwitterCollector{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		keywords:   keywords,
		lang:       "ja",
		maxResults: maxResults,
		log:        log,
	}
}

func (t *TwitterCollector) Name() string {
	return "x_search"
}

type tweetEntry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
}

type tweetUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type tweetSearchResponse struct {
	Data     []tweetEntry `json:"data"`
	Includes struct {
		Users []tweetUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// Collect runs the recent search for every configured keyword.
func (t *TwitterCollector) Collect(ctx context.Context) ([]models.CollectedPost, error) {
	dataset := make([]models.CollectedPost, 0, t.maxResults*len(t.keywords))
	for _, keyword := range t.keywords {
		posts, err := t.collectKeyword(ctx, keyword)
		if err != nil {
			return nil, fmt.Errorf("x search %q: %w", keyword, err)
		}
		dataset = append(dataset, posts...)
	}
	return dataset, nil
}

func (t *TwitterCollector) collectKeyword(ctx context.Context, keyword string) ([]models.CollectedPost, error) {
	collected := make([]models.CollectedPost, 0, t.maxResults)
	nextToken := ""

	for len(collected) < t.maxResults {
		pageSize := t.maxResults - len(collected)
		if pageSize > 100 {
			pageSize = 100
		}
		if pageSize < 10 {
			pageSize = 10 // API minimum
		}

		params := map[string]string{
			"query":        fmt.Sprintf("%s lang:%s -is:retweet", keyword, t.lang),
			"max_results":  strconv.Itoa(pageSize),
			"tweet.fields": "created_at,lang,author_id",
			"expansions":   "author_id",
			"user.fields":  "username,name",
		}
		if nextToken != "" {
			params["next_token"] = nextToken
		}

		var payload tweetSearchResponse
		resp, err := t.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&payload).
			Get(t.baseURL + "/2/tweets/search/recent")
		if err != nil {
			return nil, fmt.Errorf("search request: %w", err)
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, fmt.Errorf("bearer token rejected (status %d)", resp.StatusCode())
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("search request: unexpected status %d", resp.StatusCode())
		}

		if len(payload.Data) == 0 {
			break
		}

		usersByID := make(map[string]tweetUser, len(payload.Includes.Users))
		for _, user := range payload.Includes.Users {
			usersByID[user.ID] = user
		}

		raws := make([]RawPost, 0, len(payload.Data))
		for _, tweet := range payload.Data {
			user := usersByID[tweet.AuthorID]
			raws = append(raws, RawPost{
				ID:          tweet.ID,
				Username:    user.Username,
				DisplayName: user.Name,
				Body:        tweet.Text,
				PostedAt:    tweet.CreatedAt,
				URL:         fmt.Sprintf("https://x.com/%s/status/%s", user.Username, tweet.ID),
				Lang:        tweet.Lang,
			})
		}

		for _, post := range NormalizeAll(keyword, t.Name(), raws) {
			if len(collected) >= t.maxResults {
				break
			}
			collected = append(collected, post)
		}

		if payload.Meta.NextToken == "" {
			break
		}
		nextToken = payload.Meta.NextToken
	}

	t.log.WithFields(logrus.Fields{
		"keyword": keyword,
		"count":   len(collected),
	}).Info("Collected X posts for keyword")

	return collected, nil
}
