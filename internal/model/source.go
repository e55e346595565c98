// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Source は収集対象の外部ソース（フィードまたはWebページ）を表す。
// 削除はせず、Activeをfalseにして無効化する。
type Source struct {
	ID              int64
	Name            string
	URL             string
	Type            SourceType
	Active          bool
	DefaultCategory *Category
	Cadence         Cadence
	LastCollected   *time.Time
	QualityWeight   float64
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SourceType はソースの取得方式を表す。
type SourceType string

const (
	// SourceTypeFeed はRSS/Atomなどのシンジケーションフィード。
	SourceTypeFeed SourceType = "feed"
	// SourceTypePage は構造ヒューリスティックで解析するHTMLページ。
	SourceTypePage SourceType = "page"
)

// ParseSourceType は文字列をSourceTypeに変換する。
// 旧レジストリの "rss" / "web" も受け付ける。
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "feed", "rss", "atom":
		return SourceTypeFeed, nil
	case "page", "web", "html":
		return SourceTypePage, nil
	default:
		return "", fmt.Errorf("未対応のソース種別です: %q", s)
	}
}

// Cadence はソースの収集頻度を表す。
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Interval は収集頻度に対応する間隔を返す。未知の値はdailyとして扱う。
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsDue は収集頻度の間隔が前回収集から経過しているかを返す。
// 一度も収集していないソースは常に対象となる。
func (s *Source) IsDue(now time.Time) bool {
	if s.LastCollected == nil {
		return true
	}
	return !now.Before(s.LastCollected.Add(s.Cadence.Interval()))
}

// Host はソースURLのホスト部分を返す。
func (s *Source) Host() string {
	return hostOf(s.URL)
}
