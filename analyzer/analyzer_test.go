package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjinsansan/recovery/models"
)

// fakeCompleter returns a fixed response or error for every prompt.
type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.response, f.err
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestExtractSingleMethod(t *testing.T) {
	response := `{
		"methods": [
			{
				"method_slug": "ssri",
				"method_display_name": "SSRI再開",
				"action_text": "低用量SSRI再開",
				"effect_text": "二週間で睡眠が戻った",
				"effect_label": "positive",
				"sentiment_score": 0.85,
				"confidence": 0.9,
				"spam_flag": false
			}
		]
	}`

	a := NewAnalyzer(&fakeCompleter{response: response}, 1, testLogger())
	methods, err := a.Extract(context.Background(), "うつ 治った→低用量SSRI再開で二週間で睡眠が戻った")

	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "ssri", methods[0].MethodSlug)
	assert.Equal(t, "SSRI再開", methods[0].MethodDisplayName)
	assert.Equal(t, models.EffectPositive, methods[0].EffectLabel)
	assert.Equal(t, 0.85, methods[0].SentimentScore)
	assert.Equal(t, 0.9, methods[0].Confidence)
	assert.False(t, methods[0].SpamFlag)
	assert.JSONEq(t, `{
		"method_slug": "ssri",
		"method_display_name": "SSRI再開",
		"action_text": "低用量SSRI再開",
		"effect_text": "二週間で睡眠が戻った",
		"effect_label": "positive",
		"sentiment_score": 0.85,
		"confidence": 0.9,
		"spam_flag": false
	}`, string(methods[0].RawResponse))
}

func TestExtractMissingMethodsKey(t *testing.T) {
	a := NewAnalyzer(&fakeCompleter{response: `{"result": "ok"}`}, 1, testLogger())

	methods, err := a.Extract(context.Background(), "some post")
	require.NoError(t, err)
	assert.Empty(t, methods)
}

func TestExtractMalformedResponse(t *testing.T) {
	a := NewAnalyzer(&fakeCompleter{response: `not json at all`}, 1, testLogger())

	methods, err := a.Extract(context.Background(), "some post")
	assert.Error(t, err)
	assert.Empty(t, methods)
}

func TestExtractModelFailure(t *testing.T) {
	a := NewAnalyzer(&fakeCompleter{err: errors.New("timeout")}, 1, testLogger())

	methods, err := a.Extract(context.Background(), "some post")
	assert.Error(t, err)
	assert.Empty(t, methods)
}

func TestParseMethodsValidation(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected int
	}{
		{
			name: "Missing slug dropped",
			response: `{"methods":[{"method_slug":"","method_display_name":"x",
				"action_text":"a","effect_text":"e","effect_label":"positive","sentiment_score":0.5}]}`,
			expected: 0,
		},
		{
			name: "Invalid effect label dropped",
			response: `{"methods":[{"method_slug":"s","method_display_name":"x",
				"action_text":"a","effect_text":"e","effect_label":"amazing","sentiment_score":0.5}]}`,
			expected: 0,
		},
		{
			name: "Missing sentiment score dropped",
			response: `{"methods":[{"method_slug":"s","method_display_name":"x",
				"action_text":"a","effect_text":"e","effect_label":"positive"}]}`,
			expected: 0,
		},
		{
			name: "Valid element among invalid ones kept",
			response: `{"methods":[
				{"method_slug":"","method_display_name":"x","action_text":"a","effect_text":"e","effect_label":"positive","sentiment_score":0.5},
				{"method_slug":"meditation","method_display_name":"瞑想","action_text":"毎朝10分の瞑想","effect_text":"不安が減った","effect_label":"positive","sentiment_score":0.7}
			]}`,
			expected: 1,
		},
		{
			name:     "Empty methods array",
			response: `{"methods":[]}`,
			expected: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			methods, err := parseMethods(tc.response)
			require.NoError(t, err)
			assert.Len(t, methods, tc.expected)
		})
	}
}

func TestParseMethodsDefaultsAndClamping(t *testing.T) {
	response := `{"methods":[{
		"method_slug": "morning-walk",
		"method_display_name": "朝散歩",
		"action_text": "午前中の散歩と日光浴",
		"effect_text": "午前中の希死念慮が薄れた",
		"effect_label": "positive",
		"sentiment_score": 1.5
	}]}`

	methods, err := parseMethods(response)
	require.NoError(t, err)
	require.Len(t, methods, 1)

	// out-of-range scores clamp, omitted confidence/spam take defaults
	assert.Equal(t, 1.0, methods[0].SentimentScore)
	assert.Equal(t, 0.8, methods[0].Confidence)
	assert.False(t, methods[0].SpamFlag)
}

func TestExtractBatchSkipsEmptyContent(t *testing.T) {
	response := `{"methods":[{
		"method_slug": "ssri",
		"method_display_name": "SSRI再開",
		"action_text": "低用量SSRI再開",
		"effect_text": "二週間で睡眠が戻った",
		"effect_label": "positive",
		"sentiment_score": 0.85
	}]}`

	a := NewAnalyzer(&fakeCompleter{response: response}, 2, testLogger())
	posts := []models.CollectedPost{
		{PlatformID: "p1", Content: "うつ 治った→低用量SSRI再開で二週間で睡眠が戻った"},
		{PlatformID: "p2", Content: ""},
		{PlatformID: "p3", Content: "パニック 改善→高照度ライト30分で体内時計が整った"},
	}

	results := a.ExtractBatch(context.Background(), posts)

	// empty-content post gets no entry, not an empty one
	assert.Len(t, results, 2)
	assert.Contains(t, results, "p1")
	assert.NotContains(t, results, "p2")
	assert.Contains(t, results, "p3")
	assert.Len(t, results["p1"], 1)
}

func TestExtractBatchIsolatesFailures(t *testing.T) {
	a := NewAnalyzer(&fakeCompleter{err: errors.New("rate limited")}, 2, testLogger())
	posts := []models.CollectedPost{
		{PlatformID: "p1", Content: "投稿A"},
		{PlatformID: "p2", Content: "投稿B"},
	}

	results := a.ExtractBatch(context.Background(), posts)

	// failed posts are attempted and map to zero methods
	assert.Len(t, results, 2)
	assert.Empty(t, results["p1"])
	assert.Empty(t, results["p2"])
}
