package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はフィードやページから取り出したHTML断片をプレーンテキストに変換する。
// 全てのタグを除去し、エンティティを展開し、連続する空白を1つにまとめる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicyで全タグを除去する。ブロック要素の境界で単語が
// 連結しないよう、タグを除去した位置には空白を挿入する。
func NewTextSanitizer() *TextSanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &TextSanitizer{policy: p}
}

// Text はHTMLをプレーンテキストに変換する。
// script/styleの中身は出力に含まれない。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return CollapseSpace(html.UnescapeString(stripped))
}

// CollapseSpace は連続する空白文字を半角スペース1つにまとめ、前後の空白を除去する。
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
