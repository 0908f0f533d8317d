package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry 服务的全部业务指标，nil 时所有方法都是空操作，方便测试直接传 nil
type Registry struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	CodeRequestsTotal   *prometheus.CounterVec
	ValidationsTotal    *prometheus.CounterVec
	DeliveryAttempts    *prometheus.CounterVec
	DeliveryDuration    *prometheus.HistogramVec
	StoreDegradedTotal  *prometheus.CounterVec
	SweepDeletedTotal   *prometheus.CounterVec
}

func NewRegistry() *Registry {
	return &Registry{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "path"},
		),
		CodeRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_code_requests_total",
				Help: "RequestCode calls by outcome",
			},
			[]string{"outcome"},
		),
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_validations_total",
				Help: "ValidateCode calls by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_delivery_attempts_total",
				Help: "SMS delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_delivery_duration_seconds",
				Help:    "Single SMS delivery attempt duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"channel"},
		),
		StoreDegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_store_degraded_total",
				Help: "Durable store operations that failed and fell back to the cache tier",
			},
			[]string{"op"},
		),
		SweepDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_sweep_deleted_total",
				Help: "Entries removed by the expiry sweeper",
			},
			[]string{"tier"},
		),
	}
}

// Register 注册到指定 registry
func (r *Registry) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.CodeRequestsTotal,
		r.ValidationsTotal,
		r.DeliveryAttempts,
		r.DeliveryDuration,
		r.StoreDegradedTotal,
		r.SweepDeletedTotal,
	)
}

func (r *Registry) CodeRequested(outcome string) {
	if r == nil {
		return
	}
	r.CodeRequestsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) Validated(outcome string) {
	if r == nil {
		return
	}
	r.ValidationsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) DeliveryAttempt(channel string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.DeliveryAttempts.WithLabelValues(channel, result).Inc()
	r.DeliveryDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (r *Registry) StoreDegraded(op string) {
	if r == nil {
		return
	}
	r.StoreDegradedTotal.WithLabelValues(op).Inc()
}

func (r *Registry) SweepDeleted(tier string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.SweepDeletedTotal.WithLabelValues(tier).Add(float64(n))
}

// GinMiddleware 记录 HTTP 请求数和耗时，path 使用路由模板避免手机号进入标签
func (r *Registry) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		r.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
