package metrics

import (
	"errors"
	"strconv"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/calls"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dialer's Prometheus collectors. It satisfies
// campaigns.Recorder.
type Metrics struct {
	reg prometheus.Gatherer

	dispatches   *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	inFlight     *prometheus.GaugeVec
	sessionState *prometheus.GaugeVec
	reconnects   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_originate_total",
			Help: "Originate requests by dispatch result",
		}, []string{"result"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_call_outcomes_total",
			Help: "Call attempts reaching a terminal outcome",
		}, []string{"outcome"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dialer_calls_in_flight",
			Help: "Attempts dispatched and not yet resolved, per campaign",
		}, []string{"campaign_id"}),
		sessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dialer_manager_session_state",
			Help: "1 for the manager session's current state, 0 otherwise",
		}, []string{"state"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "dialer_manager_connection_lost_total",
			Help: "Established manager connections that dropped",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		}),
	}
}

func (m *Metrics) Dispatch(result string) { m.dispatches.WithLabelValues(result).Inc() }

func (m *Metrics) Outcome(o calls.Outcome) { m.outcomes.WithLabelValues(string(o)).Inc() }

// InFlight sets a campaign's in-flight gauge; zero removes the series.
func (m *Metrics) InFlight(campaignID string, n int) {
	if n == 0 {
		m.inFlight.DeleteLabelValues(campaignID)
		return
	}
	m.inFlight.WithLabelValues(campaignID).Set(float64(n))
}

// WatchSession tracks s's state transitions.
func (m *Metrics) WatchSession(s *ami.Session) {
	m.setSessionState(s.State())
	s.OnStateChange(func(st ami.State, err error) {
		m.setSessionState(st)
		if st == ami.StateDisconnected && errors.Is(err, ami.ErrConnectionLost) {
			m.reconnects.Inc()
		}
	})
}

func (m *Metrics) setSessionState(st ami.State) {
	for _, s := range []ami.State{ami.StateDisconnected, ami.StateConnecting, ami.StateConnected} {
		v := 0.0
		if s == st {
			v = 1
		}
		m.sessionState.WithLabelValues(string(s)).Set(v)
	}
}

// Middleware records request counts and latencies, labelled by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}
