// internal/pkg/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sabzar"

// HoldMetrics 汇总了预占/结算流程的业务指标。
type HoldMetrics struct {
	HoldsCreated        prometheus.Counter
	ReservationFailures *prometheus.CounterVec   // reason
	Finalizations       *prometheus.CounterVec   // outcome, result
	GatewayCalls        *prometheus.CounterVec   // operation, result
	WebhookEvents       *prometheus.CounterVec   // event, result
	ReaperSweeps        *prometheus.CounterVec   // result
	ReaperExpired       prometheus.Counter
	OperationLatency    *prometheus.HistogramVec // operation
}

// NewHoldMetrics 创建并注册指标。reg 为 nil 时使用默认注册表。
func NewHoldMetrics(reg prometheus.Registerer) *HoldMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HoldMetrics{
		HoldsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hold",
			Name: "created_total",
			Help: "Number of holds successfully created.",
		}),
		ReservationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hold",
			Name: "create_failures_total",
			Help: "Hold creation failures by reason.",
		}, []string{"reason"}),
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hold",
			Name: "finalizations_total",
			Help: "Finalize attempts by requested outcome and result.",
		}, []string{"outcome", "result"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway",
			Name: "calls_total",
			Help: "Calls to the payment gateway.",
		}, []string{"operation", "result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway",
			Name: "webhook_events_total",
			Help: "Webhook deliveries by event type and result.",
		}, []string{"event", "result"}),
		ReaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reaper",
			Name: "sweeps_total",
			Help: "Expiry sweeps by result.",
		}, []string{"result"}),
		ReaperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reaper",
			Name: "expired_total",
			Help: "Holds transitioned to expired by the reaper.",
		}),
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "hold",
			Name:    "operation_duration_seconds",
			Help:    "Latency of hold operations.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.HoldsCreated, m.ReservationFailures, m.Finalizations,
		m.GatewayCalls, m.WebhookEvents, m.ReaperSweeps, m.ReaperExpired,
		m.OperationLatency,
	)
	return m
}

// NewNopHoldMetrics 返回注册到独立注册表的指标，测试和命令行工具使用。
func NewNopHoldMetrics() *HoldMetrics {
	return NewHoldMetrics(prometheus.NewRegistry())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
