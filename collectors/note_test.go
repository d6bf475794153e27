package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestNoteCollectorPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/hashtags/%E3%81%86%E3%81%A4%E5%9B%9E%E5%BE%A9/notes", r.URL.EscapedPath())
		assert.Equal(t, "new", r.URL.Query().Get("order"))

		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			fmt.Fprint(w, `{"data":{"notes":[
				{"key":"n1","body":"朝散歩で気分が安定した","publishAt":"2024-05-01T09:00:00+09:00","user":{"urlname":"alice","name":"アリス"}},
				{"key":"n2","body":"","publishAt":"2024-05-01T10:00:00+09:00","user":{"urlname":"bob"}}
			],"next_page":2}}`)
		case "2":
			fmt.Fprint(w, `{"data":{"notes":[
				{"key":"n3","body":"カフェイン断ちで動悸が減った","publishAt":"2024-05-02T09:00:00+09:00","user":{"urlname":"carol","nickname":"キャロル"}}
			],"next_page":null}}`)
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer server.Close()

	collector := NewNoteCollector(server.URL, []string{"うつ回復"}, 50, testLogger())
	posts, err := collector.Collect(context.Background())

	require.NoError(t, err)
	// n2 has no body and is dropped by the normalizer
	require.Len(t, posts, 2)
	assert.Equal(t, "n1", posts[0].PlatformID)
	assert.Equal(t, "@alice", posts[0].Username)
	assert.Equal(t, "#うつ回復", posts[0].SourceKeyword)
	assert.Equal(t, "note_hashtag", posts[0].IngestionSource)
	assert.Equal(t, "n3", posts[1].PlatformID)
}

func TestNoteCollectorRespectsMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// every page claims another page follows; maxResults must stop the walk
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"notes":[
			{"key":"k1","body":"瞑想を続けている","publishAt":"2024-05-01T09:00:00Z","user":{"urlname":"u1"}},
			{"key":"k2","body":"散歩を続けている","publishAt":"2024-05-01T10:00:00Z","user":{"urlname":"u2"}}
		],"next_page":99}}`)
	}))
	defer server.Close()

	collector := NewNoteCollector(server.URL, []string{"#メンタルヘルス"}, 2, testLogger())
	posts, err := collector.Collect(context.Background())

	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestNoteCollectorErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	collector := NewNoteCollector(server.URL, []string{"#うつ回復"}, 10, testLogger())
	_, err := collector.Collect(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTwitterCollectorSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/search/recent", r.URL.Path)
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("query"), "うつ 治った")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[{"id":"1784","text":"うつ 治った→低用量SSRI再開で二週間で睡眠が戻った","author_id":"42","created_at":"2024-05-01T09:30:00.000Z","lang":"ja"}],
			"includes":{"users":[{"id":"42","username":"taro","name":"太郎"}]},
			"meta":{}
		}`)
	}))
	defer server.Close()

	collector := NewTwitterCollector(server.URL, "token-abc", []string{"うつ 治った"}, 10, testLogger())
	posts, err := collector.Collect(context.Background())

	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "1784", posts[0].PlatformID)
	assert.Equal(t, "@taro", posts[0].Username)
	assert.Equal(t, "太郎", posts[0].DisplayName)
	assert.Equal(t, "x_search", posts[0].IngestionSource)
	assert.Equal(t, "https://x.com/taro/status/1784", posts[0].URL)
}

func TestTwitterCollectorAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	collector := NewTwitterCollector(server.URL, "bad-token", []string{"うつ"}, 10, testLogger())
	_, err := collector.Collect(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bearer token rejected")
}
