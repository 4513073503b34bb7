package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/infra/logger"
)

// InfluxSink writes dispatch attempts to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg coremetrics.Config) *InfluxSink {
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails, so metrics never block dispatch.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAttempt writes the attempt state as a point.
func (s *InfluxSink) RecordAttempt(rec coremetrics.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_attempt").
		AddTag("target_kind", rec.Target.Kind.String()).
		AddTag("target_id", rec.Target.ID).
		AddTag("outcome", string(rec.Outcome)).
		AddTag("component", "dispatcher").
		AddField("command", rec.Command.String()).
		AddField("attempts", rec.Attempts).
		AddField("latency_ms", rec.Latency.Milliseconds()).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordScheduleSize writes the index occupancy as a point.
func (s *InfluxSink) RecordScheduleSize(n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("schedule_index").
		AddTag("component", "scheduler").
		AddField("fires", n).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStoreOutage writes a store outage point.
func (s *InfluxSink) RecordStoreOutage(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("store_outage").
		AddTag("component", "store-poller").
		AddField("duration_s", strconv.FormatFloat(d.Seconds(), 'f', 0, 64)).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }
