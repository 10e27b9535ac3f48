package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	authDecisions          *prometheus.CounterVec
	codesIssued            prometheus.Counter
	auditEntries           *prometheus.CounterVec
	notificationDeliveries *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		authDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carehub_auth_decisions_total",
			Help: "Security middleware outcomes",
		}, []string{"outcome"}),
		codesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "carehub_subscription_codes_issued_total",
			Help: "Subscription codes allocated",
		}),
		auditEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carehub_audit_entries_total",
			Help: "Audit log entries appended",
		}, []string{"action"}),
		notificationDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carehub_notification_deliveries_total",
			Help: "Notification job attempts by result",
		}, []string{"result"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carehub_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) AuthDecision(outcome string) { m.authDecisions.WithLabelValues(outcome).Inc() }

func (m *Metrics) CodeIssued() { m.codesIssued.Inc() }

func (m *Metrics) AuditRecorded(action string) { m.auditEntries.WithLabelValues(action).Inc() }

func (m *Metrics) NotificationDelivery(result string) {
	m.notificationDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
