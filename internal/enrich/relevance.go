// Package enrich は候補ドキュメントの関連性判定・分類・属性抽出・品質評価を提供する。
// 全てキーワードに基づく決定的な処理で、ネットワークやストレージにはアクセスしない。
package enrich

import "strings"

// RelevanceFilter はウェルネス分野のキーワードを1つ以上含むドキュメントのみを通す。
// 再現率を優先し、誤検出は許容する。
type RelevanceFilter struct {
	keywords []string
}

// NewRelevanceFilter はキーワードを小文字化してRelevanceFilterを生成する。空のキーワードは無視する。
func NewRelevanceFilter(keywords []string) *RelevanceFilter {
	return &RelevanceFilter{keywords: normalizeKeywords(keywords)}
}

// IsRelevant はタイトルと本文の連結テキストにキーワードが1つ以上含まれる場合にtrueを返す。
func (f *RelevanceFilter) IsRelevant(title, content string) bool {
	text := lowerText(title, content)
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// lowerText は照合用にタイトルと本文を空白で連結して小文字化する。
func lowerText(title, content string) string {
	return strings.ToLower(title + " " + content)
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
