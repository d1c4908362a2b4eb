// Package observe holds the OpenTelemetry metric instruments, tracing helpers
// and provider setup for voxpipe.
//
// Metrics are exported through a Prometheus bridge set up by [InitProvider].
// Tests should build their own [Metrics] with [NewMetrics] over an SDK
// ManualReader instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/chaz8081/voxpipe"

// Stage names used as the "stage" attribute of StageDuration.
const (
	StageTranscribe = "transcribe"
	StageCorrect    = "correct"
	StageCleanup    = "cleanup"
	StageDeliver    = "deliver"
	StageTotal      = "total"
)

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// Runs counts finished pipeline runs. Attributes: outcome, path.
	Runs metric.Int64Counter

	// CleanupRejections counts language-model outputs thrown away.
	// Attribute: reason.
	CleanupRejections metric.Int64Counter

	// CaptureRebuilds counts capture sessions rebuilt after a failure.
	// Attribute: status.
	CaptureRebuilds metric.Int64Counter

	// ModelLoads counts engine loads. Attributes: engine, status.
	ModelLoads metric.Int64Counter

	// Recording is 1 while capturing, 0 otherwise.
	Recording metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, tuned for a pipeline
// whose budget is about one second end to end.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxpipe.stage.duration",
		metric.WithDescription("Latency of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("voxpipe.runs",
		metric.WithDescription("Finished pipeline runs by outcome and cleanup path."),
	); err != nil {
		return nil, err
	}
	if met.CleanupRejections, err = m.Int64Counter("voxpipe.cleanup.rejections",
		metric.WithDescription("Language-model outputs rejected by validation, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRebuilds, err = m.Int64Counter("voxpipe.capture.rebuilds",
		metric.WithDescription("Capture sessions rebuilt after device or conversion failures."),
	); err != nil {
		return nil, err
	}
	if met.ModelLoads, err = m.Int64Counter("voxpipe.model.loads",
		metric.WithDescription("Model loads by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.Recording, err = m.Int64UpDownCounter("voxpipe.recording",
		metric.WithDescription("1 while audio is being captured."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records the latency of one stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, outcome, path string) {
	m.Runs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("path", path),
		),
	)
}

// RecordRejection counts a rejected cleanup output.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.CleanupRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRebuild counts a capture rebuild attempt.
func (m *Metrics) RecordRebuild(ctx context.Context, status string) {
	m.CaptureRebuilds.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordModelLoad counts an engine load.
func (m *Metrics) RecordModelLoad(ctx context.Context, engine, status string) {
	m.ModelLoads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}
