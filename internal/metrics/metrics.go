// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 記事単位の処理結果ラベル。
const (
	OutcomeFetched   = "fetched"
	OutcomeRelevant  = "relevant"
	OutcomeDuplicate = "duplicate"
	OutcomeEnriched  = "enriched"
	OutcomePersisted = "persisted"
	OutcomeErrored   = "errored"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレーターとフェッチャーから利用する。
type MetricsCollector interface {
	RecordRun(duration time.Duration, successRate float64)
	RecordSourceAttempt(source string, fatal bool)
	RecordItems(outcome string, count int)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs             prometheus.Counter
	runDuration      prometheus.Histogram
	runSuccessRate   prometheus.Gauge
	sourcesAttempted prometheus.Counter
	sourcesFatal     *prometheus.CounterVec
	items            *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellnesswire_runs_total",
			Help: "完了した収集ランの合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wellnesswire_run_duration_seconds",
			Help:    "収集ランの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		runSuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wellnesswire_run_success_rate",
			Help: "直近の収集ランのソース成功率",
		}),
		sourcesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellnesswire_sources_attempted_total",
			Help: "処理を試みたソースの合計数",
		}),
		sourcesFatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wellnesswire_sources_fatal_total",
			Help: "致命的エラーで中断したソースの合計数",
		}, []string{"source"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wellnesswire_items_total",
			Help: "処理結果別の記事数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wellnesswire_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wellnesswire_fetch_latency_seconds",
			Help:    "HTTP取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.runSuccessRate,
		c.sourcesAttempted,
		c.sourcesFatal,
		c.items,
		c.httpStatus,
		c.fetchLatency,
	)

	return c
}

// RecordRun は収集ランの完了を記録する。
func (c *Collector) RecordRun(duration time.Duration, successRate float64) {
	c.runs.Inc()
	c.runDuration.Observe(duration.Seconds())
	c.runSuccessRate.Set(successRate)
}

// RecordSourceAttempt はソースの処理結果を記録する。
func (c *Collector) RecordSourceAttempt(source string, fatal bool) {
	c.sourcesAttempted.Inc()
	if fatal {
		c.sourcesFatal.WithLabelValues(source).Inc()
	}
}

// RecordItems は処理結果別の記事数を記録する。
func (c *Collector) RecordItems(outcome string, count int) {
	if count <= 0 {
		return
	}
	c.items.WithLabelValues(outcome).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordRun(time.Duration, float64) {}
func (NopCollector) RecordSourceAttempt(string, bool) {}
func (NopCollector) RecordItems(string, int)          {}
func (NopCollector) RecordHTTPStatus(int)             {}
func (NopCollector) RecordFetchLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
