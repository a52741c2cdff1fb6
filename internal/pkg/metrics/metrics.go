package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 业务指标
type Metrics struct {
	APICalls         *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	GatewayRequests  *prometheus.CounterVec
	SweepRuns        *prometheus.CounterVec
	SweepDemotions   prometheus.Counter
	PaymentsApplied  *prometheus.CounterVec
	VerificationSent *prometheus.CounterVec

	registry *prometheus.Registry
}

// New 创建并注册所有指标
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		APICalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_api_calls_total",
				Help: "API call consumption attempts by result",
			},
			[]string{"tier", "result"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_webhook_events_total",
				Help: "Payment webhook deliveries by gateway status and outcome",
			},
			[]string{"status", "outcome"},
		),
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_gateway_requests_total",
				Help: "Outbound payment gateway requests by operation and result",
			},
			[]string{"operation", "result"},
		),
		SweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_sweep_runs_total",
				Help: "Subscription expiry sweeps by result",
			},
			[]string{"result"},
		),
		SweepDemotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meterpay_sweep_demotions_total",
				Help: "Paid subscriptions demoted to trial",
			},
		),
		PaymentsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_payments_applied_total",
				Help: "Successful payments applied to subscriptions by source",
			},
			[]string{"source", "plan"},
		),
		VerificationSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterpay_verification_codes_total",
				Help: "Verification codes issued by purpose",
			},
			[]string{"purpose"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.APICalls,
		m.WebhookEvents,
		m.GatewayRequests,
		m.SweepRuns,
		m.SweepDemotions,
		m.PaymentsApplied,
		m.VerificationSent,
	)
	return m
}

// NewNop 测试用，注册到独立的 registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
