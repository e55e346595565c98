// Package model はドメインモデルを定義する。
package model

import "time"

// RunState は収集ランの状態を表す。
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
)

// SourceStats は1ソース分の処理件数を表す。
type SourceStats struct {
	Source    string `json:"source"`
	Fetched   int    `json:"fetched"`
	Relevant  int    `json:"relevant"`
	Duplicate int    `json:"duplicate"`
	Enriched  int    `json:"enriched"`
	Persisted int    `json:"persisted"`
	Errored   int    `json:"errored"`
	Fatal     bool   `json:"fatal"`
	Err       string `json:"error,omitempty"`
}

// RunSummary は1回の収集ランの集計結果。オーケストレーターから値で返される。
type RunSummary struct {
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	DurationSeconds  float64       `json:"duration_seconds"`
	SourcesAttempted int           `json:"sources_attempted"`
	SourcesFatal     int           `json:"sources_fatal"`
	ItemsFetched     int           `json:"items_fetched"`
	ItemsDuplicate   int           `json:"items_duplicate"`
	ItemsPersisted   int           `json:"items_persisted"`
	ItemsErrored     int           `json:"items_errored"`
	SuccessRate      float64       `json:"success_rate"`
	Sources          []SourceStats `json:"sources"`
}

// SuccessRate は (試行ソース数 - 致命的エラーのソース数) / 試行ソース数 を返す。
// 試行ソースがない場合は0。
func SuccessRate(attempted, fatal int) float64 {
	if attempted <= 0 {
		return 0
	}
	return float64(attempted-fatal) / float64(attempted)
}
