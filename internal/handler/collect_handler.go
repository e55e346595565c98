// Package handler は管理用HTTPエンドポイントを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/wellnesswire/internal/middleware"
	"github.com/hitoshi/wellnesswire/internal/model"
	"github.com/hitoshi/wellnesswire/internal/worker/collect"
)

// CollectRunner は収集ハンドラーが必要とするオーケストレーターのインターフェース。
type CollectRunner interface {
	Run(ctx context.Context, opts collect.RunOptions) (model.RunSummary, error)
	State() model.RunState
	LastSummary() (model.RunSummary, bool)
}

// CollectHandler は収集ランのトリガーと状態参照のHTTPハンドラー。
type CollectHandler struct {
	runner CollectRunner
	logger *slog.Logger
}

// NewCollectHandler はCollectHandlerを生成する。
func NewCollectHandler(runner CollectRunner, logger *slog.Logger) *CollectHandler {
	return &CollectHandler{
		runner: runner,
		logger: logger,
	}
}

// collectStatusResponse は収集状態のAPIレスポンス。
type collectStatusResponse struct {
	State       model.RunState    `json:"state"`
	LastSummary *model.RunSummary `json:"last_summary"`
}

// Trigger は収集ランを同期的に実行し、集計結果を返す。
// POST /api/collect?due_only=true
func (h *CollectHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	dueOnly, _ := strconv.ParseBool(r.URL.Query().Get("due_only"))

	// クライアントが切断してもランは最後まで実行する
	summary, err := h.runner.Run(context.WithoutCancel(r.Context()), collect.RunOptions{DueOnly: dueOnly})
	if errors.Is(err, model.ErrRunInProgress) {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewRunInProgressError())
		return
	}
	if err != nil {
		h.logger.Error("収集ランの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewRunFailedError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Status は現在の状態と直近のランの集計を返す。
// GET /api/collect/status
func (h *CollectHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := collectStatusResponse{State: h.runner.State()}
	if summary, ok := h.runner.LastSummary(); ok {
		resp.LastSummary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
