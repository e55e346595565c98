package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/wellnesswire/internal/enrich"
	"github.com/hitoshi/wellnesswire/internal/model"
)

// reenrichBatchSize は再エンリッチで1回に読み込むレコード数。
const reenrichBatchSize = 100

// ReenrichStore は再エンリッチに必要なレコード操作のインターフェース。
type ReenrichStore interface {
	ListForReenrich(ctx context.Context, afterID string, limit int) ([]model.PersistedRecord, error)
	ApplyPipelineUpdate(ctx context.Context, id string, update model.PipelineUpdate) error
}

// SourceFinder はレコードの収集元ソースを名前で引くインターフェース。
type SourceFinder interface {
	FindByName(ctx context.Context, name string) (*model.Source, error)
}

// Reenrich は保存済みの有効なレコードに分類・属性抽出・品質評価を再適用する。
// 更新するのはパイプラインが算出するフィールドのみ。更新した件数を返す。
func Reenrich(ctx context.Context, records ReenrichStore, sources SourceFinder, enricher *enrich.Enricher, logger *slog.Logger) (int, error) {
	cache := make(map[string]*model.Source)
	lookup := func(name string) (*model.Source, error) {
		if src, ok := cache[name]; ok {
			return src, nil
		}
		src, err := sources.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		cache[name] = src
		return src, nil
	}

	updated := 0
	afterID := ""
	for {
		batch, err := records.ListForReenrich(ctx, afterID, reenrichBatchSize)
		if err != nil {
			return updated, err
		}
		if len(batch) == 0 {
			break
		}

		for _, rec := range batch {
			src, err := lookup(rec.Source)
			if err != nil {
				return updated, fmt.Errorf("ソース %q の取得に失敗: %w", rec.Source, err)
			}
			if err := records.ApplyPipelineUpdate(ctx, rec.ID, enricher.Recompute(rec, src)); err != nil {
				return updated, fmt.Errorf("レコード %s の更新に失敗: %w", rec.ID, err)
			}
			updated++
		}
		afterID = batch[len(batch)-1].ID

		logger.Info("再エンリッチの進捗",
			slog.Int("updated", updated),
			slog.String("last_id", afterID),
		)
		if len(batch) < reenrichBatchSize {
			break
		}
	}
	return updated, nil
}
