package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webhook 处理结果
const (
	WebhookAccepted  = "accepted"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookInvalid   = "invalid"
	WebhookError     = "error"
)

// 任务处理结果
const (
	JobCompleted = "completed"
	JobRetried   = "retried"
	JobParked    = "parked"
	JobDiscarded = "discarded"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 接入与对账指标
	WebhooksTotal     *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	ReconcileTotal    *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	SyncProcessed     *prometheus.CounterVec
	SyncErrors        *prometheus.CounterVec

	// 系统指标
	QueueDepth          *prometheus.GaugeVec
	DatabaseConnections prometheus.Gauge
	PanicsTotal         prometheus.Counter
}

// NewMetrics 创建监控指标，所有指标注册到独立的 Registry 上
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replyhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_webhooks_total",
				Help: "Webhook deliveries by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_jobs_total",
				Help: "Queue job executions by outcome",
			},
			[]string{"outcome"},
		),

		ReconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_reconcile_total",
				Help: "Reconciled canonical events by platform and whether a message was created",
			},
			[]string{"platform", "created"},
		),

		ReconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replyhub_reconcile_duration_seconds",
				Help:    "Reconciliation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SyncProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_sync_processed_total",
				Help: "Listed emails reconciled by pull sync",
			},
			[]string{"platform"},
		),

		SyncErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyhub_sync_errors_total",
				Help: "Failed connection pulls",
			},
			[]string{"platform"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replyhub_queue_jobs",
				Help: "Jobs in the queue by state",
			},
			[]string{"state"},
		),

		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replyhub_database_connections",
				Help: "Number of acquired database connections",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replyhub_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWebhook 记录 webhook 处理结果
func (m *Metrics) RecordWebhook(platform, outcome string) {
	m.WebhooksTotal.WithLabelValues(platform, outcome).Inc()
}

// RecordJob 记录任务处理结果
func (m *Metrics) RecordJob(outcome string) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcile 记录一次对账
func (m *Metrics) RecordReconcile(platform string, created bool, duration time.Duration) {
	m.ReconcileTotal.WithLabelValues(platform, strconv.FormatBool(created)).Inc()
	m.ReconcileDuration.Observe(duration.Seconds())
}

// RecordSync 记录单个连接的拉取结果
func (m *Metrics) RecordSync(platform string, processed int, failed bool) {
	m.SyncProcessed.WithLabelValues(platform).Add(float64(processed))
	if failed {
		m.SyncErrors.WithLabelValues(platform).Inc()
	}
}

// UpdateQueueDepth 更新队列各状态任务数
func (m *Metrics) UpdateQueueDepth(state string, count int64) {
	m.QueueDepth.WithLabelValues(state).Set(float64(count))
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
