// Package metrics 导出数据源调用、限流、缓存和评分的Prometheus指标。
// 所有Record方法在接收者为nil时什么也不做，组件可以不接指标独立使用。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace 默认指标命名空间
const DefaultNamespace = "trustscore"

// Metrics 指标集合，每个实例使用独立的注册表
type Metrics struct {
	registry *prometheus.Registry

	// 数据源
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderAttempts *prometheus.HistogramVec
	RateLimitWait    *prometheus.HistogramVec

	// 缓存
	CacheRequests *prometheus.CounterVec

	// 评分
	ScoreRequests *prometheus.CounterVec
	ScoreDuration *prometheus.HistogramVec
	ScoreValue    *prometheus.HistogramVec
	Degraded      *prometheus.CounterVec
}

// New 创建指标集合
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "数据源调用次数（按结果）",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "数据源调用耗时（含重试）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "attempts",
			Help:      "单次调用的尝试次数",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"provider"}),
		RateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "等待限流配额的时间",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),

		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "评分缓存查询次数（hit/miss）",
		}, []string{"result"}),

		ScoreRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "requests_total",
			Help:      "评分请求次数",
		}, []string{"chain", "model", "outcome"}),
		ScoreDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "duration_seconds",
			Help:      "评分请求耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		ScoreValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "value",
			Help:      "评分分布",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"chain"}),
		Degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "degraded_total",
			Help:      "因部分数据缺失而降级的评分次数（按缺失数据种类）",
		}, []string{"chain", "kind"}),
	}
}

// Registry 返回注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回/metrics端点的处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordProviderCall 记录一次数据源调用
func (m *Metrics) RecordProviderCall(provider, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.ProviderAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

// RecordRateLimitWait 记录限流等待时间
func (m *Metrics) RecordRateLimitWait(provider string, waited time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(provider).Observe(waited.Seconds())
}

// RecordCache 记录缓存命中情况
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordScore 记录一次评分请求
func (m *Metrics) RecordScore(chain, model, outcome string, score float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScoreRequests.WithLabelValues(chain, model, outcome).Inc()
	m.ScoreDuration.WithLabelValues(chain).Observe(elapsed.Seconds())
	if outcome == "success" {
		m.ScoreValue.WithLabelValues(chain).Observe(score)
	}
}

// RecordDegraded 记录降级评分
func (m *Metrics) RecordDegraded(chain string, kinds []string) {
	if m == nil {
		return
	}
	for _, kind := range kinds {
		m.Degraded.WithLabelValues(chain, kind).Inc()
	}
}
