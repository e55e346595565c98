// Package extract は未加工エントリを正規化された候補ドキュメントに変換する。
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/security"
)

// DefaultSummaryLength は要約の最大文字数（ルーン数）。
const DefaultSummaryLength = 300

// truncationMarker は切り詰めた要約の末尾に付ける。
const truncationMarker = "..."

// Extractor はRawEntryからDocumentを生成する。副作用はない。
type Extractor struct {
	sanitizer     *security.TextSanitizer
	summaryLength int
}

// New はExtractorを生成する。summaryLengthが0以下の場合は既定値を使う。
func New(summaryLength int) *Extractor {
	if summaryLength <= 0 {
		summaryLength = DefaultSummaryLength
	}
	return &Extractor{
		sanitizer:     security.NewTextSanitizer(),
		summaryLength: summaryLength,
	}
}

// Extract はエントリのHTMLをテキスト化し、要約とフィンガープリントを付与する。
// タイトルまたは本文が空の場合は*model.ExtractionErrorを返す。
func (e *Extractor) Extract(source string, entry model.RawEntry) (model.Document, error) {
	title := e.sanitizer.Text(entry.Title)
	content := e.sanitizer.Text(entry.Content)
	if content == "" {
		content = e.sanitizer.Text(entry.Summary)
	}

	if title == "" {
		return model.Document{}, &model.ExtractionError{Source: source, Link: entry.Link, Reason: "タイトルが空です"}
	}
	if content == "" {
		return model.Document{}, &model.ExtractionError{Source: source, Link: entry.Link, Reason: "本文が空です"}
	}

	summary := e.sanitizer.Text(entry.Summary)
	if summary == "" {
		summary = content
	}

	return model.Document{
		Title:       title,
		Content:     content,
		Summary:     truncate(summary, e.summaryLength),
		Source:      source,
		Link:        entry.Link,
		PublishedAt: entry.PublishedAt,
		Fingerprint: Fingerprint(title, content),
	}, nil
}

// Fingerprint はタイトルと本文のみから重複判定用のSHA-256ハッシュ（16進）を計算する。
func Fingerprint(title, content string) string {
	sum := sha256.Sum256([]byte(title + "\n" + content))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncationMarker
}
