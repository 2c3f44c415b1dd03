package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics. Labels never carry
// pool, member or credential identifiers.
type Metrics struct {
	registry      *prometheus.Registry
	submissions   *prometheus.CounterVec
	credentials   *prometheus.CounterVec
	poolsCreated  prometheus.Counter
	poolsExpired  prometheus.Counter
	requestTiming *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candor",
			Name:      "submissions_total",
			Help:      "Feedback submissions by outcome.",
		}, []string{"outcome"}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candor",
			Name:      "credential_checks_total",
			Help:      "Anonymous credential checks by result.",
		}, []string{"result"}),
		poolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "candor",
			Name:      "pools_created_total",
			Help:      "Pools created.",
		}),
		poolsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "candor",
			Name:      "pools_swept_total",
			Help:      "Pools expired by the background sweep.",
		}),
		requestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "candor",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.submissions, m.credentials, m.poolsCreated, m.poolsExpired, m.requestTiming,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Submission(outcome string) { m.submissions.WithLabelValues(outcome).Inc() }

func (m *Metrics) CredentialCheck(result string) { m.credentials.WithLabelValues(result).Inc() }

func (m *Metrics) PoolCreated() { m.poolsCreated.Inc() }

func (m *Metrics) PoolsSwept(n int) { m.poolsExpired.Add(float64(n)) }

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.requestTiming.WithLabelValues(method, route, status).Observe(d.Seconds())
}
