package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/wellnesswire/internal/dedup"
	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/repository"
)

// SourceUpserter はソースレジストリの反映に必要なインターフェース。
type SourceUpserter interface {
	UpsertByName(ctx context.Context, source *model.Source) error
}

// SeedSources はレジストリのソースを名前をキーにDBへ反映する。
// 既存ソースのlast_collectedは保持される。反映した件数を返す。
func SeedSources(ctx context.Context, repo SourceUpserter, sources []model.Source, logger *slog.Logger) (int, error) {
	for i := range sources {
		if err := repo.UpsertByName(ctx, &sources[i]); err != nil {
			return i, fmt.Errorf("ソース %q の反映に失敗: %w", sources[i].Name, err)
		}
		logger.Info("ソースを反映しました",
			slog.String("source", sources[i].Name),
			slog.String("type", string(sources[i].Type)),
			slog.Bool("active", sources[i].Active),
		)
	}
	return len(sources), nil
}

// FingerprintLister は重複排除ストアの初期化に必要なインターフェース。
type FingerprintLister interface {
	ListFingerprintsSince(ctx context.Context, since time.Time) ([]repository.FingerprintEntry, error)
}

// SeedDedup はウィンドウ内に保存済みのフィンガープリントを重複排除ストアに読み込む。
// プロセス再起動後もウィンドウ内の重複を検出できるようにする。
func SeedDedup(ctx context.Context, store dedup.Store, repo FingerprintLister, window time.Duration, now time.Time) (int, error) {
	entries, err := repo.ListFingerprintsSince(ctx, now.Add(-window))
	if err != nil {
		return 0, fmt.Errorf("保存済みフィンガープリントの取得に失敗: %w", err)
	}
	for _, e := range entries {
		if err := store.Seed(ctx, e.Fingerprint, e.CollectedAt); err != nil {
			return 0, fmt.Errorf("重複排除ストアの初期化に失敗: %w", err)
		}
	}
	return len(entries), nil
}
