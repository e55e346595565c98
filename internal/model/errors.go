// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicate は同一フィンガープリントのレコードが既に存在することを表す。
// 致命的なエラーではなく、スキップとして扱う。
var ErrDuplicate = errors.New("重複コンテンツ")

// ErrRunInProgress は収集ランが既に実行中であることを表す。
var ErrRunInProgress = errors.New("収集ランは既に実行中です")

// PolicyFetchError はrobots.txtの取得・解析失敗を表す。
// 非致命的で、ゲートは許可として扱う（フェイルオープン）。
type PolicyFetchError struct {
	Host string
	Err  error
}

func (e *PolicyFetchError) Error() string {
	return fmt.Sprintf("クロールポリシーの取得に失敗 (host=%s): %v", e.Host, e.Err)
}

func (e *PolicyFetchError) Unwrap() error { return e.Err }

// FetchError はネットワーク・タイムアウト・HTTPエラーを表す。
// そのソースの残りの処理を打ち切るが、他のソースには影響しない。
type FetchError struct {
	Source     string
	URL        string
	StatusCode int // HTTPステータスが不明な場合は0
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("取得に失敗 (source=%s, url=%s, status=%d): %v", e.Source, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("取得に失敗 (source=%s, url=%s): %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError はフィード・ページの部分的な解析失敗を表す。
// 解析できたエントリは保持される。
type ParseError struct {
	Source string
	Entry  string // 特定できる場合のエントリ識別子
	Err    error
}

func (e *ParseError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("解析に失敗 (source=%s, entry=%s): %v", e.Source, e.Entry, e.Err)
	}
	return fmt.Sprintf("解析に失敗 (source=%s): %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractionError はエントリ単位の抽出失敗を表す。エントリはスキップされ、再試行しない。
type ExtractionError struct {
	Source string
	Link   string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("抽出に失敗 (source=%s, link=%s): %s", e.Source, e.Link, e.Reason)
}

// PersistenceError は重複以外のストレージ障害を表す。
// オーケストレーターにはソース単位のエラーとして伝わる。
type PersistenceError struct {
	Fingerprint string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("永続化に失敗 (fingerprint=%s): %v", e.Fingerprint, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// APIError は管理用HTTPエンドポイントの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: collect, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRunInProgress = "RUN_IN_PROGRESS"
	ErrCodeRunFailed     = "RUN_FAILED"
)

// NewRunInProgressError は収集ラン実行中エラーを生成する。
func NewRunInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeRunInProgress,
		Message:  "収集ランは既に実行中です。",
		Category: "collect",
		Action:   "実行中のランが完了してから再度実行してください。",
	}
}

// NewRunFailedError は収集ランの開始失敗エラーを生成する。
func NewRunFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRunFailed,
		Message:  fmt.Sprintf("収集ランを実行できませんでした: %s", reason),
		Category: "collect",
		Action:   "データベース接続とソース設定を確認してください。",
	}
}
