// Package model はドメインモデルを定義する。
package model

import (
	"net/url"
	"strings"
	"time"
)

// RawEntry はフェッチャーが1回の取得で生成する未加工のエントリ。
// 抽出処理の後は破棄される。
type RawEntry struct {
	Title       string
	Summary     string
	Content     string // HTMLを含む場合がある
	Link        string
	PublishedAt *time.Time
}

// Document は正規化済みの候補ドキュメントを表す。
// Fingerprintはタイトルと本文のみから計算され、リンクや日時には依存しない。
type Document struct {
	Title       string
	Content     string
	Summary     string
	Source      string
	Link        string
	PublishedAt *time.Time
	Fingerprint string
}

// Category は主カテゴリの閉じた列挙。
type Category string

const (
	// CategoryMindWellness は瞑想・マインドフルネス・メンタルヘルス。
	CategoryMindWellness Category = "mind_wellness"
	// CategoryBodyWellness はヨガ・運動・栄養。
	CategoryBodyWellness Category = "body_wellness"
	// CategorySpaTherapy はスパ・マッサージ・自然療法。
	CategorySpaTherapy Category = "spa_therapy"
)

// Categories は同点時の優先順位順に並んだ全カテゴリ。
var Categories = []Category{CategoryMindWellness, CategoryBodyWellness, CategorySpaTherapy}

// ParseCategory は文字列をCategoryに変換する。未知の値はfalseを返す。
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Duration はプログラム期間の区分。
type Duration string

const (
	DurationSingleDay    Duration = "당일"
	DurationOneNight     Duration = "1박2일"
	DurationTwoThreeDays Duration = "2-3일"
	DurationOneWeek      Duration = "1주일"
	DurationOverWeek     Duration = "1주일이상"
)

// PriceRange はプログラム価格帯の区分。
type PriceRange string

const (
	PriceLow    PriceRange = "저가"
	PriceMedium PriceRange = "중가"
	PriceHigh   PriceRange = "고가"
	PriceLuxury PriceRange = "럭셔리"
)

// Location は本文から推定した所在地。
type Location struct {
	Country  string `json:"country"`
	Region   string `json:"region,omitempty"`
	Specific string `json:"specific,omitempty"`
}

// ProgramInfo は本文から推定したプログラム情報。
type ProgramInfo struct {
	Duration   Duration   `json:"duration,omitempty"`
	PriceRange PriceRange `json:"price_range,omitempty"`
	Difficulty string     `json:"difficulty,omitempty"`
	GroupSize  string     `json:"group_size,omitempty"`
}

// EnrichedDocument は分類・属性抽出・品質評価を適用したドキュメント。
type EnrichedDocument struct {
	Document
	Category     Category
	Location     *Location
	ProgramInfo  *ProgramInfo
	Tags         []string
	QualityScore float64
}

// PersistedRecord は永続化された正規レコード。
// 収集パイプラインは作成のみを行い、作成後に更新しない。
type PersistedRecord struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Summary           string       `json:"summary"`
	Content           string       `json:"content"`
	Source            string       `json:"source"`
	SourceURL         string       `json:"source_url"`
	Category          Category     `json:"category"`
	SecondaryCategory string       `json:"secondary_category,omitempty"`
	Tags              []string     `json:"tags"`
	Location          *Location    `json:"location"`
	ProgramInfo       *ProgramInfo `json:"program_info"`
	QualityScore      float64      `json:"quality_score"`
	PublishedAt       *time.Time   `json:"published_at"`
	CollectedAt       time.Time    `json:"collected_at"`
	Fingerprint       string       `json:"fingerprint"`
	Active            bool         `json:"-"`
	Views             int          `json:"-"`
	CreatedAt         time.Time    `json:"-"`
	UpdatedAt         time.Time    `json:"-"`
}

// PipelineUpdate は再エンリッチ時に上書きするフィールドのみを列挙した更新構造体。
// 外部APIによる編集はこの構造体の対象外。
type PipelineUpdate struct {
	Category     Category
	Location     *Location
	ProgramInfo  *ProgramInfo
	QualityScore float64
}

// hostOf はURLから小文字のホスト名を取り出す。パースできない場合は空文字列。
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
