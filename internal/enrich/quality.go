package enrich

import (
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/wellnesswire/internal/model"
)

const (
	qualitySignals = 5

	fullContentRunes = 1000
	halfContentRunes = 500
	minTitleRunes    = 10
	minSummaryRunes  = 50
)

var titleKeywords = []string{"웰니스", "wellness", "리트리트", "retreat"}

// QualityScorer はドキュメントの充実度を[0,1]で評価する純粋関数。
type QualityScorer struct{}

// Score は5つのシグナルの平均を返す。
// 所在地の有無、プログラム情報の有無、本文の長さ（1000文字以上で1、500文字以上で0.5）、
// タイトルの質（10文字超かつ分野キーワードを含む）、要約の有無（50文字超）。
func (QualityScorer) Score(doc model.EnrichedDocument) float64 {
	var score float64

	if doc.Location != nil {
		score++
	}
	if doc.ProgramInfo != nil {
		score++
	}

	switch n := utf8.RuneCountInString(doc.Content); {
	case n >= fullContentRunes:
		score++
	case n >= halfContentRunes:
		score += 0.5
	}

	if utf8.RuneCountInString(doc.Title) > minTitleRunes && containsAny(strings.ToLower(doc.Title), titleKeywords) {
		score++
	}

	if utf8.RuneCountInString(doc.Summary) > minSummaryRunes {
		score++
	}

	return score / qualitySignals
}

// Weighted はソースの品質重みを掛け、[0,1]に収める。
func (s QualityScorer) Weighted(doc model.EnrichedDocument, weight float64) float64 {
	return clamp01(s.Score(doc) * weight)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
