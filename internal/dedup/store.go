// Package dedup はコンテンツのフィンガープリントによる重複排除を提供する。
// 記録は一定期間（ウィンドウ）だけ有効で、期限切れの記録は再登録を妨げない。
package dedup

import (
	"context"
	"time"
)

// Store はフィンガープリントの確認と予約を不可分に行うインターフェース。
// 同一フィンガープリントに対する同時呼び出しのうち、成功するのは1つだけである。
type Store interface {
	// Reserve は有効な記録が存在しなければ現在時刻で記録してtrueを返す。
	// 有効な記録が既にある場合はfalseを返す。
	Reserve(ctx context.Context, fingerprint string) (bool, error)

	// Release は予約を取り消す。保存に失敗したコンテンツを次回のランで再取得できるようにする。
	Release(ctx context.Context, fingerprint string) error

	// Seed は保存済みレコードの収集日時で記録を復元する。ウィンドウ外の記録は無視する。
	Seed(ctx context.Context, fingerprint string, recordedAt time.Time) error
}
