package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus series of one run. All methods are safe on a
// nil receiver, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	OperatorDuration *prometheus.HistogramVec
	OperatorErrors   *prometheus.CounterVec
	Observations     prometheus.Gauge
	Samples          *prometheus.CounterVec

	// World metrics
	CollectiveCalls *prometheus.CounterVec
	Aborts          prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	startTime time.Time
}

// NewMetrics creates the series on a fresh registry labelled with the
// world rank.
func NewMetrics(worldRank int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"world_rank": strconv.Itoa(worldRank)}, reg))

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		OperatorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telesim_operator_duration_seconds",
				Help:    "Operator exec and finalize duration in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"pipeline", "operator", "phase"},
		),
		OperatorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telesim_operator_errors_total",
				Help: "Total number of failed operator calls",
			},
			[]string{"pipeline", "operator", "phase"},
		),
		Observations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "telesim_observations_local",
				Help: "Number of observations held by this process",
			},
		),
		Samples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telesim_samples_simulated_total",
				Help: "Total number of detector samples written by operators",
			},
			[]string{"operator"},
		),
		CollectiveCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telesim_collective_calls_total",
				Help: "Total number of collective rounds entered",
			},
			[]string{"comm"},
		),
		Aborts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "telesim_aborts_total",
				Help: "Total number of world aborts issued by this process",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telesim_http_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telesim_http_request_duration_seconds",
				Help:    "Status server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "telesim_uptime_seconds",
			Help: "Seconds since the run started",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry holding every series of the run.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// RecordOperator records one operator call.
func (m *Metrics) RecordOperator(pipeline, operator, phase string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.OperatorDuration.WithLabelValues(pipeline, operator, phase).Observe(duration.Seconds())
	if err != nil {
		m.OperatorErrors.WithLabelValues(pipeline, operator, phase).Inc()
	}
}

// SetObservations sets the number of local observations.
func (m *Metrics) SetObservations(count int) {
	if m == nil {
		return
	}
	m.Observations.Set(float64(count))
}

// AddSamples counts detector samples written by operator.
func (m *Metrics) AddSamples(operator string, n int) {
	if m == nil {
		return
	}
	m.Samples.WithLabelValues(operator).Add(float64(n))
}

// IncCollective counts a collective round on the communicator comm.
func (m *Metrics) IncCollective(comm string) {
	if m == nil {
		return
	}
	m.CollectiveCalls.WithLabelValues(comm).Inc()
}

// IncAborts counts an abort issued by this process.
func (m *Metrics) IncAborts() {
	if m == nil {
		return
	}
	m.Aborts.Inc()
}

// RecordHTTPRequest records a status server request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
