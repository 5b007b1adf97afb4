// Package metrics 回测服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quant/backtest"
)

const namespace = "quant"

// Metrics 指标集合
type Metrics struct {
	// 回测运行次数 (kind, status)
	RunsTotal *prometheus.CounterVec
	// 回测耗时
	RunDuration *prometheus.HistogramVec
	// 被拒绝的订单 (reason)
	RejectionsTotal *prometheus.CounterVec
	// 参数组合结果 (status)
	CombinationsTotal *prometheus.CounterVec
	// 正在执行的任务
	TasksInFlight prometheus.Gauge

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New 创建并注册指标；reg 为 nil 时使用独立的 Registry
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Backtest runs by kind and final status",
		}, []string{"kind", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Backtest wall-clock duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "rejections_total",
			Help:      "Orders rejected by the simulated broker",
		}, []string{"reason"}),
		CombinationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "combinations_total",
			Help:      "Optimizer parameter combinations by outcome",
		}, []string{"status"}),
		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "in_flight",
			Help:      "Backtest tasks currently running",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RejectionsTotal,
		m.CombinationsTotal,
		m.TasksInFlight,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// ObserveRun 记录一次回测的结果
func (m *Metrics) ObserveRun(kind, status string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(kind, status).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRejections(rejs []backtest.Rejection) {
	for _, r := range rejs {
		m.RejectionsTotal.WithLabelValues(string(r.Reason)).Inc()
	}
}

func (m *Metrics) ObserveOptimize(res *backtest.OptimizeResult) {
	if res == nil {
		return
	}
	m.CombinationsTotal.WithLabelValues(string(backtest.TrialOK)).Add(float64(res.Successful))
	m.CombinationsTotal.WithLabelValues(string(backtest.TrialFailed)).Add(float64(res.Failed))
	m.CombinationsTotal.WithLabelValues(string(backtest.TrialSkipped)).Add(float64(res.Skipped))
	m.CombinationsTotal.WithLabelValues(string(backtest.TrialAbandoned)).Add(float64(res.Abandoned))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
