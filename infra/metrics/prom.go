package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/model"
)

// PromSink records dispatch attempts in Prometheus metrics.
type PromSink struct {
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	occupancy prometheus.Gauge
	outages   prometheus.Counter
}

// NewPromSink registers dispatch metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total number of dispatch attempt state transitions",
	}, []string{"target_kind", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_delivery_seconds",
		Help:    "Time between fire instant and delivery outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"target_kind", "delivered"})
	occupancy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedule_index_fires",
		Help: "Number of live fires in the schedule index",
	})
	outages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_unavailable_total",
		Help: "Number of times the external store exceeded the unavailability threshold",
	})

	if err := reg.Register(attempts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			attempts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(occupancy); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			occupancy = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(outages); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			outages = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}

	return &PromSink{attempts: attempts, latency: latency, occupancy: occupancy, outages: outages}, nil
}

// RecordAttempt increments the attempt counter and, for terminal outcomes,
// observes the delivery latency.
func (s *PromSink) RecordAttempt(rec coremetrics.AttemptRecord) error {
	s.attempts.WithLabelValues(rec.Target.Kind.String(), string(rec.Outcome)).Inc()
	if rec.Outcome.Terminal() {
		delivered := strconv.FormatBool(rec.Outcome == model.OutcomeDelivered)
		s.latency.WithLabelValues(rec.Target.Kind.String(), delivered).Observe(rec.Latency.Seconds())
	}
	return nil
}

// RecordScheduleSize sets the occupancy gauge.
func (s *PromSink) RecordScheduleSize(n int) error {
	s.occupancy.Set(float64(n))
	return nil
}

// RecordStoreOutage increments the outage counter.
func (s *PromSink) RecordStoreOutage(time.Duration) error {
	s.outages.Inc()
	return nil
}
