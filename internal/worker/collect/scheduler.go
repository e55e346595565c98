package collect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// Runner は収集ランの実行インターフェース。
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (model.RunSummary, error)
}

// Job はスケジューラから定期実行される付随処理（保持期間クリーンアップ等）。
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler は一定間隔で収集ランを起動する。
// 各ティックでは収集周期が経過したソースのみを対象にする。
type Scheduler struct {
	runner Runner
	jobs   []Job
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// jobsは各収集ランの後に順に実行される。
func NewScheduler(runner Runner, logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		runner: runner,
		jobs:   jobs,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("収集スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("収集スケジューラを停止しました")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("収集サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は収集周期が経過したソースを対象に1回ランを実行し、続けて付随ジョブを実行する。
// 別のランが実行中の場合は何もせずnilを返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.runner.Run(ctx, RunOptions{DueOnly: true})
	if errors.Is(err, model.ErrRunInProgress) {
		s.logger.Info("収集ランが実行中のためスキップします")
		return nil
	}
	if err != nil {
		return err
	}

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := job.Run(ctx); err != nil {
			s.logger.Error("付随ジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
