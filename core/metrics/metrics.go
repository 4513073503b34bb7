package metrics

import (
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// AttemptRecord is one dispatch attempt state to be recorded.
type AttemptRecord struct {
	Target   model.Target
	Command  model.Command
	Outcome  model.AttemptOutcome
	Attempts int
	Latency  time.Duration
	Time     time.Time
}

// MetricsSink records dispatch attempts for observability purposes.
type MetricsSink interface {
	RecordAttempt(rec AttemptRecord) error
}

// OccupancyRecorder records the number of live fires in the schedule index.
type OccupancyRecorder interface {
	RecordScheduleSize(n int) error
}

// StoreOutageRecorder records external store unavailability.
type StoreOutageRecorder interface {
	RecordStoreOutage(d time.Duration) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordAttempt(AttemptRecord) error { return nil }
func (NopSink) RecordScheduleSize(int) error      { return nil }
func (NopSink) RecordStoreOutage(time.Duration) error {
	return nil
}

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9105"
	}
}
