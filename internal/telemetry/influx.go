package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig selects the InfluxDB v2 bucket throughput samples go to.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"-"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Enabled reports whether a server URL is configured.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// InfluxSink writes samples as points through the non-blocking write API.
type InfluxSink struct {
	client      influxdb2.Client
	writer      influxdb2_api.WriteAPI
	measurement string
	host        string
}

// NewInfluxSink connects lazily: failures surface as logged write errors.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telemetry: influx url is empty")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "videomapper_throughput"
	}
	host, _ := os.Hostname()

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(50).
			SetFlushInterval(1000),
	)
	s := &InfluxSink{
		client:      client,
		writer:      client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		host:        host,
	}

	go func() {
		for err := range s.writer.Errors() {
			slog.Warn("telemetry: influx write failed", "error", err)
		}
	}()

	slog.Info("telemetry: influx export enabled",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return s, nil
}

func (s *InfluxSink) Record(_ context.Context, sample Sample) error {
	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddTag("host", s.host).
		AddField("frames", int64(sample.Frames)).
		AddField("fps", sample.FPS).
		SetTime(sample.Time)
	s.writer.WritePoint(p)
	return nil
}

// Flush sends buffered points.
func (s *InfluxSink) Flush() {
	s.writer.Flush()
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() {
	s.writer.Flush()
	s.client.Close()
}
