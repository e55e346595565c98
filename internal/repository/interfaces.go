// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// ErrDuplicateFingerprint は同一フィンガープリントのレコードが既に保存されていることを表す。
var ErrDuplicateFingerprint = errors.New("fingerprint already exists")

// SourceRepository は収集ソースの永続化インターフェース。
type SourceRepository interface {
	// ListActive は有効なソースを名前順で返す。
	ListActive(ctx context.Context) ([]model.Source, error)

	// FindByName は名前でソースを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Source, error)

	// UpsertByName は名前をキーにソースを作成または更新する。
	// last_collectedは更新しない。
	UpsertByName(ctx context.Context, source *model.Source) error

	// UpdateLastCollected はソースの最終収集日時を更新する。
	// 収集ランではそのソースを担当するワーカーのみが呼び出す。
	UpdateLastCollected(ctx context.Context, id int64, at time.Time) error
}

// FingerprintEntry は重複排除ストアの初期化に使うフィンガープリントと収集日時の組。
type FingerprintEntry struct {
	Fingerprint string
	CollectedAt time.Time
}

// RecordRepository は収集レコードの永続化インターフェース。
type RecordRepository interface {
	// Create はレコードを作成する。
	// フィンガープリントが既に存在する場合はErrDuplicateFingerprintを返す。
	Create(ctx context.Context, record *model.PersistedRecord) error

	// ListFingerprintsSince は指定日時以降に収集されたレコードのフィンガープリントを返す。
	ListFingerprintsSince(ctx context.Context, since time.Time) ([]FingerprintEntry, error)

	// ListForReenrich は再エンリッチ対象の有効なレコードをID順に返す。
	// afterIDが空でない場合はそれより大きいIDのみを返す（キーセットページネーション）。
	ListForReenrich(ctx context.Context, afterID string, limit int) ([]model.PersistedRecord, error)

	// ApplyPipelineUpdate はパイプラインが算出するフィールドのみを上書きする。
	ApplyPipelineUpdate(ctx context.Context, id string, update model.PipelineUpdate) error
}
