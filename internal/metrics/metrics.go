// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 集計エンジンやワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordRollupComputed(kind string)
	RecordRollupCacheHit(kind string)
	RecordComputeLatency(kind string, duration time.Duration)
	RecordNegativeReturning(kind string)
	RecordProvisionalPurged(count int)
	RecordTrackingFailure(event string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	rollupComputed    *prometheus.CounterVec
	rollupCacheHit    *prometheus.CounterVec
	computeLatency    *prometheus.HistogramVec
	negativeReturning *prometheus.CounterVec
	provisionalPurged prometheus.Counter
	trackingFail      *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rollupComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diary_rollup_computed_total",
			Help: "新たに計算して保存した集計行の数",
		}, []string{"kind"}),
		rollupCacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diary_rollup_cache_hit_total",
			Help: "保存済みの集計行をそのまま返した回数",
		}, []string{"kind"}),
		computeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diary_rollup_compute_seconds",
			Help:    "集計計算のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		negativeReturning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diary_negative_returning_users_total",
			Help: "returning_usersが負の値になった集計の数",
		}, []string{"kind"}),
		provisionalPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_provisional_rollups_purged_total",
			Help: "期間終了後に削除された暫定集計行の数",
		}),
		trackingFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diary_tracking_failures_total",
			Help: "外部イベント送信に失敗した回数",
		}, []string{"event"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diary_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.rollupComputed,
		c.rollupCacheHit,
		c.computeLatency,
		c.negativeReturning,
		c.provisionalPurged,
		c.trackingFail,
		c.httpStatus,
	)

	return c
}

// RecordRollupComputed は集計行の新規計算を記録する。
func (c *Collector) RecordRollupComputed(kind string) {
	c.rollupComputed.WithLabelValues(kind).Inc()
}

// RecordRollupCacheHit は保存済み集計行の再利用を記録する。
func (c *Collector) RecordRollupCacheHit(kind string) {
	c.rollupCacheHit.WithLabelValues(kind).Inc()
}

// RecordComputeLatency は集計計算のレイテンシを記録する。
func (c *Collector) RecordComputeLatency(kind string, duration time.Duration) {
	c.computeLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordNegativeReturning はreturning_usersが負になった集計を記録する。
func (c *Collector) RecordNegativeReturning(kind string) {
	c.negativeReturning.WithLabelValues(kind).Inc()
}

// RecordProvisionalPurged は削除した暫定集計行の数を記録する。
func (c *Collector) RecordProvisionalPurged(count int) {
	c.provisionalPurged.Add(float64(count))
}

// RecordTrackingFailure は外部イベント送信の失敗を記録する。
func (c *Collector) RecordTrackingFailure(event string) {
	c.trackingFail.WithLabelValues(event).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
