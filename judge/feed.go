package judge

import (
	"sort"
	"sync"
	"time"

	"github.com/jinjinsansan/recovery/models"
)

const defaultFeedCapacity = 50

// JudgedPost is one collected post with its classification, for the feed API.
type JudgedPost struct {
	Post       models.CollectedPost `json:"post"`
	Analysis   Verdict              `json:"analysis"`
	AnalyzedAt time.Time            `json:"analyzed_at"`
}

// Feed keeps the most recently judged posts, capped at a fixed capacity.
type Feed struct {
	classifier Classifier
	capacity   int
	mutex      sync.RWMutex
	entries    []JudgedPost
}

// NewFeed creates a feed that classifies with the given strategy.
func NewFeed(classifier Classifier, capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{
		classifier: classifier,
		capacity:   capacity,
		entries:    make([]JudgedPost, 0, capacity),
	}
}

// Judge classifies one post and records it, evicting the oldest entry when
// the feed is full.
func (f *Feed) Judge(post models.CollectedPost) Verdict {
	verdict := f.classifier.Classify(post.Content)

	f.mutex.Lock()
	f.entries = append(f.entries, JudgedPost{
		Post:       post,
		Analysis:   verdict,
		AnalyzedAt: time.Now().UTC(),
	})
	if len(f.entries) > f.capacity {
		f.entries = f.entries[len(f.entries)-f.capacity:]
	}
	f.mutex.Unlock()

	return verdict
}

// Recent returns the judged posts, newest post first.
func (f *Feed) Recent() []JudgedPost {
	f.mutex.RLock()
	recent := make([]JudgedPost, len(f.entries))
	copy(recent, f.entries)
	f.mutex.RUnlock()

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Post.PostedAt.After(recent[j].Post.PostedAt)
	})
	return recent
}
