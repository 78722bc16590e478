// 文件: pkg/metrics/metrics.go
// Prometheus 指标
//
// 指标注册到调用方传入的 Registerer，测试时传 prometheus.NewRegistry() 避免重复注册

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 定价结果标签
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // 参数 / 配置错误
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics 定价服务的全部指标
type Metrics struct {
	// 定价
	PricingRequests *prometheus.CounterVec   // method, style, outcome
	PricingDuration *prometheus.HistogramVec // method, style
	PathsSimulated  prometheus.Counter

	// 缓存
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// 存储与事件
	QuotesStored     prometheus.Counter
	StoreErrors      prometheus.Counter
	EventsPublished  prometheus.Counter
	PublishErrors    prometheus.Counter
	MessagesConsumed *prometheus.CounterVec // source, outcome

	// HTTP
	HTTPRequests *prometheus.CounterVec   // route, code
	HTTPDuration *prometheus.HistogramVec // route
}

// New 创建并注册指标
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "option_pricer"
	}
	f := promauto.With(reg)

	return &Metrics{
		PricingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "requests_total",
			Help:      "Total number of pricing requests",
		}, []string{"method", "style", "outcome"}),
		PricingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "duration_seconds",
			Help:      "Pricing latency",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "style"}),
		PathsSimulated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "paths_simulated_total",
			Help:      "Total number of Monte Carlo paths simulated",
		}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Pricing results served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cacheable pricing requests not found in cache",
		}),

		QuotesStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "quotes_stored_total",
			Help:      "Quotes persisted to the history store",
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed quote writes",
		}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Quote events published",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Failed quote event publications",
		}),
		MessagesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "messages_consumed_total",
			Help:      "Pricing requests received over messaging",
		}, []string{"source", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObservePricing 记录一次定价
func (m *Metrics) ObservePricing(method, style, outcome string, paths int, d time.Duration) {
	if m == nil {
		return
	}
	m.PricingRequests.WithLabelValues(method, style, outcome).Inc()
	if outcome == OutcomeOK {
		m.PricingDuration.WithLabelValues(method, style).Observe(d.Seconds())
		if paths > 0 {
			m.PathsSimulated.Add(float64(paths))
		}
	}
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler /metrics 接口
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
