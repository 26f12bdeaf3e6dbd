package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consult"

type Registry struct {
	reg *prometheus.Registry

	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	meterTicks           *prometheus.CounterVec
	terminations         *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	paymentReports       *prometheus.CounterVec
	paymentLatency       *prometheus.HistogramVec
	ratingSubmissions    *prometheus.CounterVec
	widgetOps            *prometheus.CounterVec
	widgetLatency        *prometheus.HistogramVec
	widgetRetries        *prometheus.CounterVec
	widgetRetryExhausted *prometheus.CounterVec
	openSessions         prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total background job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_ms",
			Help:      "Background job duration in milliseconds by job.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"job"}),
		meterTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meter",
			Name:      "ticks_total",
			Help:      "Meter ticks by role and whether time accrued.",
		}, []string{"role", "accrued"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meter",
			Name:      "terminations_total",
			Help:      "Sessions ended by the meter or the controller, by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meter",
			Name:      "notifications_total",
			Help:      "Notifications emitted to the page by kind.",
		}, []string{"kind"}),
		paymentReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "payment_reports_total",
			Help:      "End-of-call payment reports by status.",
		}, []string{"status"}),
		paymentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "payment_report_latency_ms",
			Help:      "End-of-call payment report latency in milliseconds by status.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"status"}),
		ratingSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "rating_submissions_total",
			Help:      "Rating submissions by status.",
		}, []string{"status"}),
		widgetOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "operations_total",
			Help:      "Video room API operations by operation and status.",
		}, []string{"op", "status"}),
		widgetLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "operation_latency_ms",
			Help:      "Video room API latency in milliseconds by operation and status.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"op", "status"}),
		widgetRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "retries_total",
			Help:      "Video room API retries by operation and reason.",
		}, []string{"op", "reason"}),
		widgetRetryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "retry_exhausted_total",
			Help:      "Video room API operations that exhausted retry attempts.",
		}, []string{"op"}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Session controllers currently open.",
		}),
	}
	r.reg.MustRegister(
		r.jobRuns, r.jobDuration,
		r.meterTicks, r.terminations, r.notifications,
		r.paymentReports, r.paymentLatency, r.ratingSubmissions,
		r.widgetOps, r.widgetLatency, r.widgetRetries, r.widgetRetryExhausted,
		r.openSessions,
	)
	return r
}

func (r *Registry) ObserveJob(job, status string, d time.Duration) {
	r.jobRuns.WithLabelValues(job, status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(float64(d.Milliseconds()))
}

func (r *Registry) IncTick(role string, accrued bool) {
	label := "false"
	if accrued {
		label = "true"
	}
	r.meterTicks.WithLabelValues(role, label).Inc()
}

func (r *Registry) IncTermination(reason string) {
	r.terminations.WithLabelValues(reason).Inc()
}

func (r *Registry) IncNotification(kind string) {
	r.notifications.WithLabelValues(kind).Inc()
}

func (r *Registry) ObservePaymentReport(status string, d time.Duration) {
	r.paymentReports.WithLabelValues(status).Inc()
	r.paymentLatency.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func (r *Registry) IncRatingSubmission(status string) {
	r.ratingSubmissions.WithLabelValues(status).Inc()
}

func (r *Registry) ObserveWidgetOp(op, status string, d time.Duration) {
	r.widgetOps.WithLabelValues(op, status).Inc()
	r.widgetLatency.WithLabelValues(op, status).Observe(float64(d.Milliseconds()))
}

func (r *Registry) IncWidgetRetry(op, reason string) {
	r.widgetRetries.WithLabelValues(op, reason).Inc()
}

func (r *Registry) IncWidgetRetryExhausted(op string) {
	r.widgetRetryExhausted.WithLabelValues(op).Inc()
}

func (r *Registry) SetOpenSessions(n int) {
	r.openSessions.Set(float64(n))
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
