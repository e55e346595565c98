package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/wellnesswire/internal/config"
	"github.com/hitoshi/wellnesswire/internal/database"
	"github.com/hitoshi/wellnesswire/internal/enrich"
	"github.com/hitoshi/wellnesswire/internal/handler"
	"github.com/hitoshi/wellnesswire/internal/logger"
	"github.com/hitoshi/wellnesswire/internal/metrics"
	"github.com/hitoshi/wellnesswire/internal/middleware"
	"github.com/hitoshi/wellnesswire/internal/repository"
	"github.com/hitoshi/wellnesswire/internal/worker/cleanup"
	"github.com/hitoshi/wellnesswire/internal/worker/collect"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// stdout はcollectコマンドがランのサマリーを書き出す先。
var stdout io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("dedup_backend", cfg.DedupBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandCollect:
		return runCollect(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeedSources:
		return runSeedSources(ctx, cfg)
	case CommandReenrich:
		return runReenrich(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newRegistry はGoランタイムとプロセスのコレクターを登録したPrometheusレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe は管理APIサーバーモードで起動する。
// COLLECTION_ENABLEDが有効な場合はスケジューラをバックグラウンドで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistry()
	p, err := buildPipeline(ctx, cfg, db, metrics.NewCollector(reg), slog.Default())
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.CollectionEnabled {
		scheduler := collect.NewScheduler(p.orchestrator, slog.Default(),
			cleanup.NewCleanupJob(db, slog.Default(), cfg.Retention),
		)
		go scheduler.Start(ctx, cfg.CollectionInterval)
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Runner:      p.orchestrator,
		DB:          db,
		Gatherer:    reg,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CollectRunTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("collection_enabled", cfg.CollectionEnabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はスケジューラのみで起動する。
// 各ティックで周期が経過したソースを収集し、続けて保持期間クリーンアップを行う。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := buildPipeline(ctx, cfg, db, metrics.NewCollector(newRegistry()), slog.Default())
	if err != nil {
		return err
	}
	defer p.Close()

	scheduler := collect.NewScheduler(p.orchestrator, slog.Default(),
		cleanup.NewCleanupJob(db, slog.Default(), cfg.Retention),
	)

	slog.Info("worker starting",
		slog.Duration("collection_interval", cfg.CollectionInterval),
		slog.Int("max_concurrent", cfg.CollectMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.CollectionInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runCollect は全ての有効なソースを対象に収集ランを1回実行し、サマリーをJSONで出力する。
func runCollect(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := buildPipeline(ctx, cfg, db, metrics.NopCollector{}, slog.Default())
	if err != nil {
		return err
	}
	defer p.Close()

	summary, err := p.orchestrator.Run(ctx, collect.RunOptions{})
	if err != nil {
		return fmt.Errorf("collection run failed: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeedSources はSOURCES_FILEのソースレジストリを読み込み、名前をキーにDBへ反映する。
func runSeedSources(ctx context.Context, cfg *config.Config) error {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := SeedSources(ctx, repository.NewPostgresSourceRepo(db), sources, slog.Default())
	if err != nil {
		return err
	}
	slog.Info("ソースレジストリの反映が完了しました",
		slog.String("file", cfg.SourcesFile),
		slog.Int("count", n),
	)
	return nil
}

// runReenrich は保存済みの有効なレコードに分類・属性抽出・品質評価を再適用する。
func runReenrich(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := Reenrich(ctx,
		repository.NewPostgresRecordRepo(db),
		repository.NewPostgresSourceRepo(db),
		enrich.NewEnricher(cfg.RelevanceKeywords),
		slog.Default(),
	)
	if err != nil {
		return fmt.Errorf("reenrich failed after %d records: %w", n, err)
	}
	slog.Info("再エンリッチが完了しました", slog.Int("updated", n))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
