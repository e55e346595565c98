// Package collect は収集ランの実行を提供する。
// 有効なソースごとに取得・抽出・関連性判定・重複排除・強化・保存を行い、
// 件数を集計して結果を値で返す。
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/wellnesswire/internal/dedup"
	"github.com/hitoshi/wellnesswire/internal/enrich"
	"github.com/hitoshi/wellnesswire/internal/extract"
	"github.com/hitoshi/wellnesswire/internal/metrics"
	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/worker/fetch"
)

const (
	// DefaultMaxConcurrent は同時に処理するソース数の既定値。
	DefaultMaxConcurrent = 4
	// lastCollectedTimeout はランの期限切れ後もlast_collectedを更新するための猶予。
	lastCollectedTimeout = 10 * time.Second
)

// SourceStore はオーケストレーターが使うソースの読み書きインターフェース。
type SourceStore interface {
	ListActive(ctx context.Context) ([]model.Source, error)
	UpdateLastCollected(ctx context.Context, id int64, at time.Time) error
}

// Committer は強化済みドキュメントを保存するインターフェース。
type Committer interface {
	Commit(ctx context.Context, doc model.EnrichedDocument) (model.PersistedRecord, error)
}

// RunOptions は1回のランの実行条件。
type RunOptions struct {
	// DueOnly がtrueの場合、収集周期が経過したソースのみを対象にする。
	DueOnly bool
}

// Deps はOrchestratorの依存。
type Deps struct {
	Sources SourceStore
	// NewFetcher はランごとに呼ばれる。robots.txtのキャッシュはランの間だけ保持される。
	NewFetcher func() fetch.Fetcher
	Extractor  *extract.Extractor
	Relevance  *enrich.RelevanceFilter
	Enricher   *enrich.Enricher
	Dedup      dedup.Store
	Persister  Committer
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

// Config はOrchestratorの設定。
type Config struct {
	MaxConcurrent int
	RunTimeout    time.Duration
}

// Orchestrator は収集ランを実行する。同時に実行できるランは1つだけ。
type Orchestrator struct {
	deps          Deps
	maxConcurrent int
	runTimeout    time.Duration
	now           func() time.Time

	mu          sync.Mutex
	state       model.RunState
	lastSummary *model.RunSummary
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
// MaxConcurrentが0以下の場合は既定値を使う。
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopCollector{}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{
		deps:          deps,
		maxConcurrent: maxConcurrent,
		runTimeout:    cfg.RunTimeout,
		now:           time.Now,
		state:         model.RunStateIdle,
	}
}

// State は現在のランの状態を返す。
func (o *Orchestrator) State() model.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastSummary は直近に完了したランの集計を返す。まだ完了したランがない場合はfalseを返す。
func (o *Orchestrator) LastSummary() (model.RunSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSummary == nil {
		return model.RunSummary{}, false
	}
	return *o.lastSummary, true
}

// Run は有効なソース全てを対象に収集ランを実行する。
// 実行中のランがある場合はmodel.ErrRunInProgressを返す。
// 1つのソースの失敗は他のソースの処理を止めない。
// ランの期限に達した場合、処理中のソースは現在のエントリを終えてから停止し、保存済みのレコードは残る。
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (model.RunSummary, error) {
	if !o.begin() {
		return model.RunSummary{}, model.ErrRunInProgress
	}

	summary, err := o.run(ctx, opts)

	o.mu.Lock()
	o.state = model.RunStateCompleted
	if err == nil {
		o.lastSummary = &summary
	}
	o.mu.Unlock()

	return summary, err
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == model.RunStateRunning {
		return false
	}
	o.state = model.RunStateRunning
	return true
}

func (o *Orchestrator) run(ctx context.Context, opts RunOptions) (model.RunSummary, error) {
	started := o.now()

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	sources, err := o.deps.Sources.ListActive(ctx)
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("有効なソースの取得に失敗: %w", err)
	}
	if opts.DueOnly {
		sources = dueSources(sources, started)
	}

	o.deps.Logger.Info("収集ランを開始します",
		slog.Int("source_count", len(sources)),
		slog.Bool("due_only", opts.DueOnly),
		slog.Int("max_concurrent", o.maxConcurrent),
	)

	fetcher := o.deps.NewFetcher()
	results := make([]*model.SourceStats, len(sources))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrent)
	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// 空きを待つ間に期限に達したソースは試行しない
			if ctx.Err() != nil {
				return nil
			}
			st := o.collectSource(ctx, fetcher, src)
			results[i] = &st
			return nil
		})
	}
	_ = g.Wait()

	stats := make([]model.SourceStats, 0, len(results))
	for _, st := range results {
		if st != nil {
			stats = append(stats, *st)
		}
	}
	if skipped := len(sources) - len(stats); skipped > 0 {
		o.deps.Logger.Warn("ランの期限に達したため一部のソースを処理しませんでした",
			slog.Int("skipped", skipped),
		)
	}

	summary := summarize(started, o.now(), stats)
	o.deps.Metrics.RecordRun(time.Duration(summary.DurationSeconds*float64(time.Second)), summary.SuccessRate)

	o.deps.Logger.Info("収集ランが完了しました",
		slog.Int("sources_attempted", summary.SourcesAttempted),
		slog.Int("sources_fatal", summary.SourcesFatal),
		slog.Int("items_persisted", summary.ItemsPersisted),
		slog.Int("items_errored", summary.ItemsErrored),
		slog.Float64("success_rate", summary.SuccessRate),
		slog.Float64("duration_seconds", summary.DurationSeconds),
	)
	return summary, nil
}

// collectSource は1つのソースのエントリを順に処理する。
// エントリの処理はソースのワーカー内で逐次に行う。
func (o *Orchestrator) collectSource(ctx context.Context, fetcher fetch.Fetcher, src model.Source) model.SourceStats {
	st := model.SourceStats{Source: src.Name}
	logger := o.deps.Logger.With(slog.String("source", src.Name))

	for entry, err := range fetcher.Fetch(ctx, src) {
		if err != nil {
			st.Errored++
			var fetchErr *model.FetchError
			if errors.As(err, &fetchErr) {
				st.Fatal = true
				st.Err = err.Error()
				logger.Error("ソースの取得に失敗しました",
					slog.Int("http_status", fetchErr.StatusCode),
					slog.String("error", err.Error()),
				)
				break
			}
			logger.Warn("エントリの解析に失敗しました",
				slog.String("error", err.Error()),
			)
			continue
		}

		st.Fetched++
		// 現在のエントリはランの期限に関わらず最後まで処理する
		if fatal := o.processEntry(context.WithoutCancel(ctx), src, entry, &st, logger); fatal {
			break
		}
		if ctx.Err() != nil {
			logger.Warn("ランの期限に達したためソースの処理を打ち切ります")
			break
		}
	}

	o.markCollected(ctx, src, logger)
	o.recordSource(st)

	logger.Info("ソースの処理が完了しました",
		slog.Int("fetched", st.Fetched),
		slog.Int("relevant", st.Relevant),
		slog.Int("duplicate", st.Duplicate),
		slog.Int("persisted", st.Persisted),
		slog.Int("errored", st.Errored),
		slog.Bool("fatal", st.Fatal),
	)
	return st
}

// processEntry は1件のエントリを抽出から保存まで処理する。
// ソースの処理を打ち切るべき失敗の場合はtrueを返す。
func (o *Orchestrator) processEntry(ctx context.Context, src model.Source, entry model.RawEntry, st *model.SourceStats, logger *slog.Logger) bool {
	doc, err := o.deps.Extractor.Extract(src.Name, entry)
	if err != nil {
		st.Errored++
		logger.Warn("エントリの抽出に失敗したためスキップします",
			slog.String("link", entry.Link),
			slog.String("error", err.Error()),
		)
		return false
	}

	if !o.deps.Relevance.IsRelevant(doc.Title, doc.Content) {
		logger.Debug("関連キーワードを含まないためスキップします", slog.String("link", doc.Link))
		return false
	}
	st.Relevant++

	reserved, err := o.deps.Dedup.Reserve(ctx, doc.Fingerprint)
	if err != nil {
		st.Errored++
		logger.Error("重複排除ストアの予約に失敗しました",
			slog.String("fingerprint", doc.Fingerprint),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !reserved {
		st.Duplicate++
		logger.Debug("重複コンテンツのためスキップします", slog.String("fingerprint", doc.Fingerprint))
		return false
	}

	enriched := o.deps.Enricher.Enrich(doc, src)
	st.Enriched++

	rec, err := o.deps.Persister.Commit(ctx, enriched)
	switch {
	case err == nil:
		st.Persisted++
		logger.Debug("レコードを保存しました",
			slog.String("id", rec.ID),
			slog.String("category", string(rec.Category)),
			slog.Float64("quality_score", rec.QualityScore),
		)
		return false
	case errors.Is(err, model.ErrDuplicate):
		st.Duplicate++
		return false
	default:
		st.Errored++
		st.Fatal = true
		st.Err = err.Error()
		if relErr := o.deps.Dedup.Release(ctx, doc.Fingerprint); relErr != nil {
			logger.Warn("重複排除の予約を取り消せませんでした", slog.String("error", relErr.Error()))
		}
		logger.Error("レコードの保存に失敗しました",
			slog.String("fingerprint", doc.Fingerprint),
			slog.String("error", err.Error()),
		)
		return true
	}
}

// markCollected はソースのlast_collectedを更新する。ランの期限切れ後でも更新する。
func (o *Orchestrator) markCollected(ctx context.Context, src model.Source, logger *slog.Logger) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastCollectedTimeout)
	defer cancel()
	if err := o.deps.Sources.UpdateLastCollected(uctx, src.ID, o.now()); err != nil {
		logger.Error("最終収集日時の更新に失敗しました", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) recordSource(st model.SourceStats) {
	m := o.deps.Metrics
	m.RecordSourceAttempt(st.Source, st.Fatal)
	m.RecordItems(metrics.OutcomeFetched, st.Fetched)
	m.RecordItems(metrics.OutcomeRelevant, st.Relevant)
	m.RecordItems(metrics.OutcomeDuplicate, st.Duplicate)
	m.RecordItems(metrics.OutcomeEnriched, st.Enriched)
	m.RecordItems(metrics.OutcomePersisted, st.Persisted)
	m.RecordItems(metrics.OutcomeErrored, st.Errored)
}

func dueSources(sources []model.Source, now time.Time) []model.Source {
	due := make([]model.Source, 0, len(sources))
	for _, s := range sources {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	return due
}

// summarize はソースごとの件数からランの集計を作る。
func summarize(started, ended time.Time, stats []model.SourceStats) model.RunSummary {
	s := model.RunSummary{
		StartedAt:        started,
		EndedAt:          ended,
		DurationSeconds:  ended.Sub(started).Seconds(),
		SourcesAttempted: len(stats),
		Sources:          stats,
	}
	for _, st := range stats {
		if st.Fatal {
			s.SourcesFatal++
		}
		s.ItemsFetched += st.Fetched
		s.ItemsDuplicate += st.Duplicate
		s.ItemsPersisted += st.Persisted
		s.ItemsErrored += st.Errored
	}
	s.SuccessRate = model.SuccessRate(s.SourcesAttempted, s.SourcesFatal)
	return s
}
