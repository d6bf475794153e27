// Package judge scores posts for medical plausibility. The shipped
// implementation is a keyword heuristic, not a certified classifier; the
// Classifier interface exists so a model-backed implementation can be
// swapped in without touching callers.
package judge

import (
	"strings"
)

// Verdict labels used by the keyword classifier.
const (
	LabelEvidenceBased  = "Evidence-Based"
	LabelMisinformation = "Misinformation"
	LabelExperiential   = "Experiential/Neutral"
)

// Verdict is one classification of a post's medical claims.
type Verdict struct {
	Label     string `json:"label"`
	Score     int    `json:"score"` // 0-100 credibility score
	Rationale string `json:"rationale"`
}

// Classifier is the evidence-judging strategy.
type Classifier interface {
	Classify(text string) Verdict
}

// KeywordClassifier is the development stand-in: a handful of keyword rules
// that catch the clearest misinformation patterns and the standard-treatment
// mentions, with everything else neutral.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var (
	cureClaims    = []string{"治る", "完治"}
	pseudoscience = []string{"波動", "霊", "毒", "チャクラ"}
	standardCare  = []string{"ssri", "認知行動療法", "休養", "薬物療法"}
)

func (k *KeywordClassifier) Classify(text string) Verdict {
	lower := strings.ToLower(text)

	if containsAny(lower, cureClaims) && containsAny(lower, pseudoscience) {
		return Verdict{
			Label:     LabelMisinformation,
			Score:     10,
			Rationale: "科学的根拠のない概念（波動、霊など）を用いた治療主張は医学的に認められていません。適切な医療機関への相談を推奨します。",
		}
	}

	if containsAny(lower, standardCare) {
		return Verdict{
			Label:     LabelEvidenceBased,
			Score:     90,
			Rationale: "言及されている治療法（薬物療法、心理療法、休養）は、うつ病等の治療ガイドラインで推奨される標準的なアプローチと一致しています。",
		}
	}

	return Verdict{
		Label:     LabelExperiential,
		Score:     50,
		Rationale: "具体的な医学的主張が含まれていないか、個人の体験談の範囲です。医学的な助言として受け取る際は注意が必要です。",
	}
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
