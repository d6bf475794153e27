package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jinjinsansan/recovery/models"
)

// Version tags every persisted method event with the prompt/parsing revision
// that produced it.
const Version = "1.0.0"

const systemPrompt = `あなたはメンタルヘルスの体験談から「実践した方法」と「その効果」を抽出する専門家です。

以下のルールに従って、ユーザーの投稿から情報を抽出してください：

1. **method_slug**: 方法の正規化されたID（英数字とハイフン、小文字）
   例: "ssri", "morning-walk", "caffeine-free", "meditation"

2. **method_display_name**: 表示用の方法名（日本語OK）
   例: "SSRI再開", "朝散歩", "カフェイン断ち", "瞑想"

3. **action_text**: ユーザーが実際に行った行動
   例: "低用量SSRI再開", "午前中の散歩と日光浴", "コーヒーを完全にやめた"

4. **effect_text**: その結果として得られた効果
   例: "二週間で睡眠が戻った", "午前中の希死念慮が薄れた", "動悸と不安が落ち着いた"

5. **effect_label**: 効果の評価
   - "positive": 改善した、良くなった、救われた
   - "negative": 悪化した、副作用が出た
   - "neutral": 変化なし、まだわからない
   - "unknown": 判定不能

6. **sentiment_score**: 0.0（非常にネガティブ）〜 1.0（非常にポジティブ）

7. **confidence**: 抽出の確信度（0.0〜1.0）
   - 0.9+: 明確に記述されている
   - 0.7-0.9: やや曖昧だが推測可能
   - 0.5-0.7: 不確実
   - 0.5未満: 情報不足

8. **spam_flag**: スパム・アフィリエイトの判定
   - true: 商品リンク、アフィリエイト、広告、宣伝
   - false: 個人の体験談

出力はJSON形式で、複数の方法がある場合は配列で返してください。`

const userPromptTemplate = `以下の投稿から、メンタルヘルスの方法と効果を抽出してください：

` + "```\n%s\n```" + `

JSON形式で出力（複数ある場合は配列）：
{
  "methods": [
    {
      "method_slug": "method-id",
      "method_display_name": "表示名",
      "action_text": "実際の行動",
      "effect_text": "得られた効果",
      "effect_label": "positive|negative|neutral|unknown",
      "sentiment_score": 0.85,
      "confidence": 0.9,
      "spam_flag": false
    }
  ]
}`

// Analyzer extracts method/effect claims from post text via a language model.
type Analyzer struct {
	completer   Completer
	concurrency int
	log         *logrus.Logger
}

// NewAnalyzer creates an analyzer. concurrency bounds the batch fan-out.
func NewAnalyzer(completer Completer, concurrency int, log *logrus.Logger) *Analyzer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Analyzer{
		completer:   completer,
		concurrency: concurrency,
		log:         log,
	}
}

// methodPayload mirrors one element of the model's "methods" array. Pointer
// fields distinguish omitted values from zero values so defaults can apply.
type methodPayload struct {
	MethodSlug        string   `json:"method_slug"`
	MethodDisplayName string   `json:"method_display_name"`
	ActionText        string   `json:"action_text"`
	EffectText        string   `json:"effect_text"`
	EffectLabel       string   `json:"effect_label"`
	SentimentScore    *float64 `json:"sentiment_score"`
	Confidence        *float64 `json:"confidence"`
	SpamFlag          *bool    `json:"spam_flag"`
}

// Extract runs one post's text through the model and returns zero or more
// extracted methods. A nil error with an empty slice means the model found
// nothing; a non-nil error means the call or parse failed. Callers log the
// error and continue, it is never fatal to a batch.
func (a *Analyzer) Extract(ctx context.Context, content string) ([]models.ExtractedMethod, error) {
	raw, err := a.completer.Complete(ctx, systemPrompt, fmt.Sprintf(userPromptTemplate, content))
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	return parseMethods(raw)
}

// parseMethods validates the model response into extracted methods. Elements
// missing required fields or carrying an unrecognized label are dropped, not
// errors; a response without a parseable "methods" array is empty, not an
// error, as long as it is valid JSON.
func parseMethods(raw string) ([]models.ExtractedMethod, error) {
	var envelope struct {
		Methods []json.RawMessage `json:"methods"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("malformed model response: %w", err)
	}

	methods := make([]models.ExtractedMethod, 0, len(envelope.Methods))
	for _, element := range envelope.Methods {
		var payload methodPayload
		if err := json.Unmarshal(element, &payload); err != nil {
			continue
		}
		if payload.MethodSlug == "" || payload.MethodDisplayName == "" ||
			payload.ActionText == "" || payload.EffectText == "" {
			continue
		}
		if !models.ValidEffectLabel(payload.EffectLabel) {
			continue
		}
		if payload.SentimentScore == nil {
			continue
		}

		confidence := 0.8
		if payload.Confidence != nil {
			confidence = *payload.Confidence
		}
		spam := false
		if payload.SpamFlag != nil {
			spam = *payload.SpamFlag
		}

		methods = append(methods, models.ExtractedMethod{
			MethodSlug:        payload.MethodSlug,
			MethodDisplayName: payload.MethodDisplayName,
			ActionText:        payload.ActionText,
			EffectText:        payload.EffectText,
			EffectLabel:       payload.EffectLabel,
			SentimentScore:    clamp01(*payload.SentimentScore),
			Confidence:        clamp01(confidence),
			SpamFlag:          spam,
			RawResponse:       append(json.RawMessage(nil), element...),
		})
	}

	return methods, nil
}

// ExtractBatch extracts methods for each post, keyed by platform id. Posts
// with empty content get no entry at all; a post whose extraction failed gets
// an entry with an empty slice. Fan-out is bounded by the configured
// concurrency and output order across posts is not defined.
func (a *Analyzer) ExtractBatch(ctx context.Context, posts []models.CollectedPost) map[string][]models.ExtractedMethod {
	results := make(map[string][]models.ExtractedMethod, len(posts))
	var mutex sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, post := range posts {
		if post.Content == "" {
			continue
		}

		post := post
		g.Go(func() error {
			methods, err := a.Extract(gctx, post.Content)
			if err != nil {
				a.log.WithError(err).WithField("post_id", post.PlatformID).Warn("Extraction failed for post")
				methods = nil
			}

			mutex.Lock()
			results[post.PlatformID] = methods
			mutex.Unlock()
			return nil
		})
	}

	// workers never return errors; per-post failures are logged above
	_ = g.Wait()

	return results
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
