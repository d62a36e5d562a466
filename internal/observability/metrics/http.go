// Package metrics 以 Prometheus 格式暴露生命周期、槽位、重试与 HTTP 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/lifecycle"
	"GhostSignal-Chain/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 持有全部指标，同时实现 retry.Observer、slot.Observer 与 lifecycle.Observer。
type Metrics struct {
	registry *prometheus.Registry

	phaseCalls        *prometheus.CounterVec
	simulatedReceipts *prometheus.CounterVec
	lifecycles        *prometheus.CounterVec
	lifecycleDuration prometheus.Histogram
	slotWait          prometheus.Histogram
	slotForceExpired  prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New 创建指标集合并注册到独立的 Registry。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		phaseCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostsignal_phase_calls_total",
			Help: "Ledger phase calls by phase and outcome.",
		}, []string{"phase", "outcome"}),
		simulatedReceipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostsignal_simulated_receipts_total",
			Help: "Phase calls that degraded to a simulated receipt.",
		}, []string{"phase"}),
		lifecycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostsignal_lifecycles_total",
			Help: "Finished lifecycles by result.",
		}, []string{"result"}),
		lifecycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ghostsignal_lifecycle_duration_seconds",
			Help:    "Wall time of a full lifecycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		slotWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ghostsignal_slot_wait_seconds",
			Help:    "Time spent queued for the commitment slot.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		slotForceExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostsignal_slot_force_expired_total",
			Help: "Slot tickets revoked by the liveness watchdog.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostsignal_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghostsignal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		m.phaseCalls, m.simulatedReceipts, m.lifecycles, m.lifecycleDuration,
		m.slotWait, m.slotForceExpired, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePhaseCall 记录一次阶段调用结果。
func (m *Metrics) ObservePhaseCall(phase ledger.Phase, outcome string) {
	m.phaseCalls.WithLabelValues(string(phase), outcome).Inc()
	if outcome == retry.OutcomeSimulated {
		m.simulatedReceipts.WithLabelValues(string(phase)).Inc()
	}
}

// ObserveSlotWait 记录排队时长。
func (m *Metrics) ObserveSlotWait(d time.Duration) {
	m.slotWait.Observe(d.Seconds())
}

// ObserveForceExpired 记录一次强制回收。
func (m *Metrics) ObserveForceExpired() {
	m.slotForceExpired.Inc()
}

// ObserveCycle 记录一次周期结果。
func (m *Metrics) ObserveCycle(result lifecycle.Result, d time.Duration) {
	m.lifecycles.WithLabelValues(string(result)).Inc()
	if result == lifecycle.ResultCompleted || result == lifecycle.ResultFailed {
		m.lifecycleDuration.Observe(d.Seconds())
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
