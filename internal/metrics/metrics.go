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
// キャッシュ層と各サービス層から利用する。
type MetricsCollector interface {
	RecordCacheHit(kind string)
	RecordFetchDedup(kind string)
	RecordFetchLatency(kind string, d time.Duration)
	RecordFetchError(kind string)
	RecordBookingResult(operation, result string)
	RecordVehicleMutation(operation, result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit        *prometheus.CounterVec
	fetchDedup      *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	fetchError      *prometheus.CounterVec
	bookingResult   *prometheus.CounterVec
	vehicleMutation *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_cache_hit_total",
			Help: "キャッシュヒットの合計数（リソース種別ごと）",
		}, []string{"kind"}),
		fetchDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_fetch_dedup_total",
			Help: "重複排除された取得リクエストの合計数（リソース種別ごと）",
		}, []string{"kind"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentway_fetch_latency_seconds",
			Help:    "バックエンド取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		fetchError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_fetch_error_total",
			Help: "バックエンド取得失敗の合計数（リソース種別ごと）",
		}, []string{"kind"}),
		bookingResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_booking_result_total",
			Help: "予約操作の結果別の合計数",
		}, []string{"operation", "result"}),
		vehicleMutation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_vehicle_mutation_total",
			Help: "車両ミューテーションの結果別の合計数",
		}, []string{"operation", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentway_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.fetchDedup,
		c.fetchLatency,
		c.fetchError,
		c.bookingResult,
		c.vehicleMutation,
		c.httpStatus,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(kind string) {
	c.cacheHit.WithLabelValues(kind).Inc()
}

// RecordFetchDedup は重複排除された取得リクエストを記録する。
func (c *Collector) RecordFetchDedup(kind string) {
	c.fetchDedup.WithLabelValues(kind).Inc()
}

// RecordFetchLatency は取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(kind string, d time.Duration) {
	c.fetchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordFetchError は取得失敗を記録する。
func (c *Collector) RecordFetchError(kind string) {
	c.fetchError.WithLabelValues(kind).Inc()
}

// RecordBookingResult は予約操作の結果を記録する。
func (c *Collector) RecordBookingResult(operation, result string) {
	c.bookingResult.WithLabelValues(operation, result).Inc()
}

// RecordVehicleMutation は車両ミューテーションの結果を記録する。
func (c *Collector) RecordVehicleMutation(operation, result string) {
	c.vehicleMutation.WithLabelValues(operation, result).Inc()
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
