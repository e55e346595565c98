package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/wellnesswire/internal/config"
	"github.com/hitoshi/wellnesswire/internal/dedup"
	"github.com/hitoshi/wellnesswire/internal/enrich"
	"github.com/hitoshi/wellnesswire/internal/extract"
	"github.com/hitoshi/wellnesswire/internal/metrics"
	"github.com/hitoshi/wellnesswire/internal/persist"
	"github.com/hitoshi/wellnesswire/internal/politeness"
	"github.com/hitoshi/wellnesswire/internal/repository"
	"github.com/hitoshi/wellnesswire/internal/security"
	"github.com/hitoshi/wellnesswire/internal/worker/collect"
	fetchpkg "github.com/hitoshi/wellnesswire/internal/worker/fetch"
)

// pingTimeout はDBとRedisの疎通確認のタイムアウト。
const pingTimeout = 5 * time.Second

// pipeline は収集パイプラインの構成要素をまとめる。
type pipeline struct {
	orchestrator *collect.Orchestrator
	redis        *redis.Client
}

// Close はパイプラインが保持する外部接続を閉じる。
func (p *pipeline) Close() {
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			slog.Warn("Redis接続のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// buildPipeline はDB接続と設定から収集パイプラインを組み立てる。
// 重複排除ストアは保存済みのフィンガープリントで初期化される。
func buildPipeline(ctx context.Context, cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{}
	recordRepo := repository.NewPostgresRecordRepo(db)

	store, err := p.newDedupStore(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	seeded, err := SeedDedup(ctx, store, recordRepo, cfg.DedupWindow, time.Now())
	if err != nil {
		p.Close()
		return nil, err
	}
	logger.Info("重複排除ストアを初期化しました",
		slog.String("backend", cfg.DedupBackend),
		slog.Int("seeded", seeded),
		slog.Duration("window", cfg.DedupWindow),
	)

	p.orchestrator = collect.NewOrchestrator(collect.Deps{
		Sources:    repository.NewPostgresSourceRepo(db),
		NewFetcher: newFetcherFactory(cfg, security.NewSSRFGuard(), collector, logger),
		Extractor:  extract.New(cfg.SummaryLength),
		Relevance:  enrich.NewRelevanceFilter(cfg.RelevanceKeywords),
		Enricher:   enrich.NewEnricher(cfg.RelevanceKeywords),
		Dedup:      store,
		Persister:  persist.New(recordRepo),
		Metrics:    collector,
		Logger:     logger,
	}, collect.Config{
		MaxConcurrent: cfg.CollectMaxConcurrent,
		RunTimeout:    cfg.CollectRunTimeout,
	})
	return p, nil
}

func (p *pipeline) newDedupStore(ctx context.Context, cfg *config.Config) (dedup.Store, error) {
	if cfg.DedupBackend != config.DedupBackendRedis {
		return dedup.NewMemoryStore(cfg.DedupWindow), nil
	}

	client := dedup.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	p.redis = client
	return dedup.NewRedisStore(client, cfg.DedupWindow), nil
}

// newFetcherFactory は収集ランごとに新しいフェッチャーを生成する関数を返す。
// robots.txtのキャッシュとホストごとの待機状態はランの間だけ共有される。
func newFetcherFactory(cfg *config.Config, guard *security.SSRFGuard, observer fetchpkg.Observer, logger *slog.Logger) func() fetchpkg.Fetcher {
	return func() fetchpkg.Fetcher {
		gate := politeness.NewGate(guard.NewSafeClient(cfg.FetchTimeout), cfg.UserAgent, cfg.RequestDelay, logger)
		client := fetchpkg.NewClient(guard, gate, fetchpkg.Options{
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Observer:    observer,
		})
		return fetchpkg.NewRegistry(client, logger, fetchpkg.PageOptions{})
	}
}
