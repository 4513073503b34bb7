package metrics

import (
	"time"

	coremetrics "github.com/luminet/dimmerd/core/metrics"
)

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAttempt forwards the record to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordAttempt(rec coremetrics.AttemptRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAttempt(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordScheduleSize forwards occupancy when supported by the sink.
func (m *MultiSink) RecordScheduleSize(n int) error {
	for _, s := range m.Sinks {
		if or, ok := s.(coremetrics.OccupancyRecorder); ok {
			if err := or.RecordScheduleSize(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordStoreOutage forwards outages when supported by the sink.
func (m *MultiSink) RecordStoreOutage(d time.Duration) error {
	for _, s := range m.Sinks {
		if sr, ok := s.(coremetrics.StoreOutageRecorder); ok {
			if err := sr.RecordStoreOutage(d); err != nil {
				return err
			}
		}
	}
	return nil
}
